package ca

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// serialLog persists the monotonic serial counter CAIssuer hands out
// serials from. Repurposed from cuemby-warren's general-purpose
// BoltStore (pkg/storage/boltdb.go) down to a single bucket holding a
// single counter key, matching spec §6's "<confdir>/db/serial" file.
type serialLog struct {
	db *bolt.DB
}

var serialBucket = []byte("serial")
var serialKey = []byte("next")

func openSerialLog(path string) (*serialLog, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening serial log %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(serialBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing serial bucket: %w", err)
	}
	return &serialLog{db: db}, nil
}

func (s *serialLog) Close() error {
	return s.db.Close()
}

// next increments and returns the serial counter. Callers must already
// hold the CAIssuer's process-wide signing lock: the oracle's serial
// store is not concurrency-safe (spec §9 "Process-wide signing lock").
func (s *serialLog) next() (int64, error) {
	var serial int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(serialBucket)
		cur := b.Get(serialKey)
		var n int64
		if cur != nil {
			n = int64(binary.BigEndian.Uint64(cur))
		}
		n++
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(n))
		if err := b.Put(serialKey, buf); err != nil {
			return err
		}
		serial = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incrementing serial: %w", err)
	}
	return serial, nil
}
