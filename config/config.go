// Package config loads and validates the server configuration. It
// mirrors boulder's cmd.Config (one struct section per component) but
// loads through viper/mapstructure instead of a bespoke JSON unmarshal,
// and validates with the same validator fork boulder depends on.
package config

import (
	"fmt"
	"time"

	"github.com/letsencrypt/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the top-level configuration for the nivlheim-server binary.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	CertStore CertStoreConfig `mapstructure:"certstore" validate:"required"`
	CAIssuer  CAIssuerConfig  `mapstructure:"ca" validate:"required"`
	Enroller  EnrollerConfig  `mapstructure:"enroller"`
	Ingestor  IngestorConfig  `mapstructure:"ingestor" validate:"required"`
	HTTP      HTTPConfig      `mapstructure:"http" validate:"required"`
}

// LogConfig controls the process-wide logger (spec ambient concern,
// not part of the fleet-management domain itself).
type LogConfig struct {
	Level      string `mapstructure:"level"`
	JSONOutput bool   `mapstructure:"json_output"`
}

// CertStoreConfig configures the relational store.
type CertStoreConfig struct {
	DSN             string `mapstructure:"dsn" validate:"required"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
}

// CAIssuerConfig configures the signing oracle.
type CAIssuerConfig struct {
	CACertPath     string        `mapstructure:"ca_cert_path" validate:"required"`
	CAKeyPath      string        `mapstructure:"ca_key_path" validate:"required"`
	SerialDBPath   string        `mapstructure:"serial_db_path" validate:"required"`
	ValidityPeriod time.Duration `mapstructure:"validity_period"`
}

// EnrollerConfig configures auto-approval and FCrDNS behavior.
type EnrollerConfig struct {
	AutoApproveRanges []string      `mapstructure:"auto_approve_ranges"`
	DNSTimeout        time.Duration `mapstructure:"dns_timeout"`
	DNSServers        []string      `mapstructure:"dns_servers"`
}

// IngestorConfig configures the archive queue and scratch directories.
type IngestorConfig struct {
	QueueDir    string        `mapstructure:"queue_dir" validate:"required"`
	ScratchDir  string        `mapstructure:"scratch_dir" validate:"required"`
	ScanInterval time.Duration `mapstructure:"scan_interval"`
}

// HTTPConfig configures the front-facing listener. TLS termination and
// client-cert presentation happen ahead of this process (spec §6); this
// config only needs the loopback-restricted ingest-worker listener and
// the public listener addresses.
type HTTPConfig struct {
	PublicAddr  string `mapstructure:"public_addr" validate:"required"`
	LoopbackAddr string `mapstructure:"loopback_addr" validate:"required"`
}

// Load reads a YAML/JSON config file at path, decodes it into a Config,
// fills defaults, and validates required fields.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("certstore.max_open_conns", 16)
	v.SetDefault("certstore.max_idle_conns", 4)
	v.SetDefault("ca.validity_period", 365*24*time.Hour)
	v.SetDefault("enroller.dns_timeout", 5*time.Second)
	v.SetDefault("ingestor.scan_interval", 10*time.Second)
}
