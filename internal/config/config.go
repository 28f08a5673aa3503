// Package config loads run settings from defaults, an optional config file,
// the environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/yuya-takeyama/dedup-ingest/internal/esclient"
)

var (
	ErrMissingRoot      = errors.New("ingest.files is required")
	ErrMissingThreshold = errors.New("ingest.max_size must be a positive size")
	ErrMissingPassword  = errors.New("elastic.password is required (or set ELASTIC_PASSWORD)")
)

// configName is looked up in the working directory as ingest.{yaml,json,toml}
const configName = "ingest"

// dockerEnvPath marks a container; inside one the index is reached by service name
var dockerEnvPath = "/.dockerenv"

// Config is the immutable run configuration
type Config struct {
	Files       string
	MaxSize     int64
	LinkDir     string
	LinkStore   string
	Marker      string
	Exclude     []string
	Concurrency int
	Attempts    int
	Backoff     time.Duration
	Timeout     time.Duration

	Catalog CatalogConfig
	Elastic ElasticConfig
}

type CatalogConfig struct {
	Enabled bool
	Path    string
}

type ElasticConfig struct {
	Scheme   string
	Host     string
	Port     int
	User     string
	Password string
	Index    string
	Pipeline string
}

// DefaultHost returns the index host for the current environment
func DefaultHost() string {
	if _, err := os.Stat(dockerEnvPath); err == nil {
		return "elasticsearch"
	}
	return "127.0.0.1"
}

// New returns a viper instance with defaults and environment lookup applied.
// Environment names are the upper-cased keys with dots replaced by
// underscores, e.g. INGEST_MAX_SIZE or ELASTIC_PASSWORD.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("ingest.link_dir", filepath.Join("extracted", "sha256"))
	v.SetDefault("ingest.link_store", "")
	v.SetDefault("ingest.marker", "")
	v.SetDefault("ingest.exclude", []string{})
	v.SetDefault("ingest.concurrency", 0)
	v.SetDefault("ingest.attempts", 50)
	v.SetDefault("ingest.backoff", 15*time.Second)
	v.SetDefault("ingest.timeout", 50*time.Second)
	v.SetDefault("catalog.enabled", false)
	v.SetDefault("catalog.path", "file_hashes.db")
	v.SetDefault("elastic.scheme", "http")
	v.SetDefault("elastic.host", DefaultHost())
	v.SetDefault("elastic.port", 9200)
	v.SetDefault("elastic.user", "elastic")
	v.SetDefault("elastic.index", "leakdata-index-000001")
	v.SetDefault("elastic.pipeline", "cbor-attachment")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// ReadFile reads path, or ./ingest.{yaml,json,toml} when path is empty.
// A missing default file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(configName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil
		}
		return fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
	}
	return nil
}

// Load builds a Config from v. It does not validate.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Files:       v.GetString("ingest.files"),
		LinkDir:     v.GetString("ingest.link_dir"),
		LinkStore:   v.GetString("ingest.link_store"),
		Marker:      v.GetString("ingest.marker"),
		Exclude:     v.GetStringSlice("ingest.exclude"),
		Concurrency: v.GetInt("ingest.concurrency"),
		Attempts:    v.GetInt("ingest.attempts"),
		Backoff:     v.GetDuration("ingest.backoff"),
		Timeout:     v.GetDuration("ingest.timeout"),
		Catalog: CatalogConfig{
			Enabled: v.GetBool("catalog.enabled"),
			Path:    v.GetString("catalog.path"),
		},
		Elastic: ElasticConfig{
			Scheme:   v.GetString("elastic.scheme"),
			Host:     v.GetString("elastic.host"),
			Port:     v.GetInt("elastic.port"),
			User:     v.GetString("elastic.user"),
			Password: v.GetString("elastic.password"),
			Index:    v.GetString("elastic.index"),
			Pipeline: v.GetString("elastic.pipeline"),
		},
	}

	if raw := strings.TrimSpace(v.GetString("ingest.max_size")); raw != "" {
		size, err := humanize.ParseBytes(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse ingest.max_size: %w", err)
		}
		cfg.MaxSize = int64(size)
	}

	if cfg.Marker == "" {
		cfg.Marker = filepath.Join(filepath.Dir(cfg.LinkDir), "ingest_done")
	}

	return cfg, nil
}

// Validate checks the settings an ingest run cannot start without
func (c Config) Validate() error {
	if c.Files == "" {
		return ErrMissingRoot
	}
	if c.MaxSize <= 0 {
		return ErrMissingThreshold
	}
	if c.Elastic.Password == "" {
		return ErrMissingPassword
	}
	if c.Attempts <= 0 {
		return fmt.Errorf("ingest.attempts must be positive, got %d", c.Attempts)
	}
	return nil
}

// BaseURL returns scheme://host:port of the index
func (c Config) BaseURL() string {
	return fmt.Sprintf("%s://%s", c.Elastic.Scheme, net.JoinHostPort(c.Elastic.Host, strconv.Itoa(c.Elastic.Port)))
}

// ClientConfig returns the index client settings
func (c Config) ClientConfig() esclient.Config {
	return esclient.Config{
		BaseURL:  c.BaseURL(),
		Index:    c.Elastic.Index,
		Pipeline: c.Elastic.Pipeline,
		Username: c.Elastic.User,
		Password: c.Elastic.Password,
		Attempts: c.Attempts,
		Backoff:  c.Backoff,
		Timeout:  c.Timeout,
	}
}
