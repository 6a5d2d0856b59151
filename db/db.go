package db

import (
	"database/sql"
	"fmt"

	"github.com/letsencrypt/borp"

	// Registers the "pgx" driver with database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/usit-gd/nivlheim/core"
	"github.com/usit-gd/nivlheim/log"
)

// NewDbMap creates the root borp mapping object for the certstore
// schema: certificates, hostinfo, files, waiting_for_approval, ipranges.
// Create one of these per process; certstore.New takes ownership of it.
func NewDbMap(dsn string, maxOpenConns, maxIdleConns int) (*borp.DbMap, error) {
	logger := log.Get()

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(maxIdleConns)
	}

	logger.Info("connected to certstore database")

	dbMap := &borp.DbMap{Db: sqlDB, Dialect: borp.PostgresDialect{}}
	initTables(dbMap)

	return dbMap, nil
}

// initTables constructs the table map for the ORM. It does not create
// tables; schema management is external to this subsystem (spec §1,
// "the relational database (schema assumed)").
func initTables(dbMap *borp.DbMap) {
	certTable := dbMap.AddTableWithName(core.Certificate{}, "certificates").SetKeys(true, "CertID")
	certTable.ColMap("Fingerprint").SetUnique(true)

	dbMap.AddTableWithName(core.WaitingEntry{}, "waiting_for_approval").SetKeys(false, "IPAddr")

	dbMap.AddTableWithName(core.IPRange{}, "ipranges").SetKeys(true, "ID")

	hostTable := dbMap.AddTableWithName(core.HostInfo{}, "hostinfo").SetKeys(false, "CertFP")
	hostTable.ColMap("CertFP").SetUnique(true)

	dbMap.AddTableWithName(core.FileRecord{}, "files").SetKeys(true, "ID")
}
