// Package config provides the daemon configuration: a JSON-tagged
// struct populated from built-in defaults, an optional configuration
// file and command line flags, in that order of precedence reversed
// (flags win over the file, the file wins over defaults).
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Defaults applied by New.
const (
	DefaultListenAddr    = "127.0.0.1:9292"
	DefaultCatalogPath   = "/var/lib/glance/registry.db"
	DefaultStoreScheme   = "file"
	DefaultFilesystemDir = "/var/lib/glance/images"
	DefaultAdminRole     = "Admin"
	DefaultScrubInterval = 5 * time.Minute
)

// S3Config holds the credentials and addressing for the s3 store
// backend.
type S3Config struct {
	Bucket    string `json:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Region    string `json:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	AccessKey string `json:"access-key,omitempty"`
	SecretKey string `json:"secret-key,omitempty"`
}

// Config defines the configuration of the image daemon. It is shared
// with the scrubber binary, which reads the same file and honors the
// store and scrub settings.
type Config struct {
	ListenAddr  string `json:"listen-addr,omitempty"`
	MetricsAddr string `json:"metrics-addr,omitempty"`
	Pidfile     string `json:"pidfile,omitempty"`

	Debug     bool   `json:"debug,omitempty"`
	LogLevel  string `json:"log-level,omitempty"`
	LogFormat string `json:"log-format,omitempty"`

	// AdminRole is the role name that elevates a request principal to
	// admin.
	AdminRole string `json:"admin-role,omitempty"`

	CatalogPath         string `json:"catalog-path,omitempty"`
	CatalogMaxRetries   int    `json:"catalog-max-retries,omitempty"`
	CatalogRetrySeconds int    `json:"catalog-retry-seconds,omitempty"`
	ListDefaultLimit    int    `json:"list-default-limit,omitempty"`
	ListMaxLimit        int    `json:"list-max-limit,omitempty"`

	// DefaultStore is the scheme new image bodies are written to.
	DefaultStore  string   `json:"default-store,omitempty"`
	FilesystemDir string   `json:"filesystem-datadir,omitempty"`
	S3            S3Config `json:"s3,omitempty"`

	// MetadataEncryptionKey encrypts stored location URIs when set. It
	// must be 16 bytes long.
	MetadataEncryptionKey string `json:"metadata-encryption-key,omitempty"`

	// ImageSizeCap bounds uploaded body sizes. Accepts human readable
	// values such as "1tb". Empty means unlimited.
	ImageSizeCap string `json:"image-size-cap,omitempty"`
	ChunkSize    int    `json:"chunk-size,omitempty"`

	// DelayedDelete defers body reclamation to the scrubber.
	DelayedDelete bool `json:"delayed-delete,omitempty"`

	// ScrubTime is the number of seconds a deleted image body must age
	// before the scrubber reclaims it.
	ScrubTime int `json:"scrub-time,omitempty"`
}

// New returns a Config with the built-in defaults set.
func New() *Config {
	return &Config{
		ListenAddr:    DefaultListenAddr,
		AdminRole:     DefaultAdminRole,
		CatalogPath:   DefaultCatalogPath,
		DefaultStore:  DefaultStoreScheme,
		FilesystemDir: DefaultFilesystemDir,
		LogLevel:      "info",
	}
}

// InstallFlags adds the daemon flags to the command line. Flag values
// take precedence over the configuration file.
func (cfg *Config) InstallFlags(flags *pflag.FlagSet) {
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Address to serve the API on")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Address to serve Prometheus metrics on")
	flags.StringVarP(&cfg.Pidfile, "pidfile", "p", cfg.Pidfile, "Path to use for daemon PID file")
	flags.BoolVarP(&cfg.Debug, "debug", "D", cfg.Debug, "Enable debug mode")
	flags.StringVarP(&cfg.LogLevel, "log-level", "l", cfg.LogLevel, `Set the logging level ("debug"|"info"|"warn"|"error"|"fatal")`)
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Set the logging format ("text"|"json")`)
	flags.StringVar(&cfg.AdminRole, "admin-role", cfg.AdminRole, "Role granting administrative privileges")
	flags.StringVar(&cfg.CatalogPath, "catalog-path", cfg.CatalogPath, "Path to the image catalog database")
	flags.StringVar(&cfg.DefaultStore, "default-store", cfg.DefaultStore, "Scheme new image bodies are stored under")
	flags.StringVar(&cfg.FilesystemDir, "filesystem-datadir", cfg.FilesystemDir, "Directory the filesystem store writes to")
	flags.StringVar(&cfg.ImageSizeCap, "image-size-cap", cfg.ImageSizeCap, `Maximum image body size (e.g. "1tb", empty for unlimited)`)
	flags.BoolVar(&cfg.DelayedDelete, "delayed-delete", cfg.DelayedDelete, "Defer image body reclamation to the scrubber")
	flags.IntVar(&cfg.ScrubTime, "scrub-time", cfg.ScrubTime, "Seconds a deleted body must age before scrubbing")
}

// Load reads the configuration file at path over cfg and then reapplies
// any flag the user set explicitly, so flags keep precedence. A missing
// file is only an error when the path was given explicitly.
func (cfg *Config) Load(path string, flags *pflag.FlagSet, pathSetExplicitly bool) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !pathSetExplicitly {
			return nil
		}
		return errors.Wrapf(err, "unable to read config file %s", path)
	}

	// Flags were parsed into cfg already. Decode the file over a copy of
	// the explicitly set flag values so they survive the unmarshal.
	var set []*pflag.Flag
	if flags != nil {
		flags.Visit(func(f *pflag.Flag) { set = append(set, f) })
	}
	if err := json.Unmarshal(b, cfg); err != nil {
		return errors.Wrapf(err, "unable to parse config file %s", path)
	}
	for _, f := range set {
		if err := flags.Set(f.Name, f.Value.String()); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks cross-field constraints.
func (cfg *Config) Validate() error {
	if cfg.ListenAddr == "" {
		return errors.New("a listen address is required")
	}
	if key := cfg.MetadataEncryptionKey; key != "" && len(key) != 16 {
		return errors.Errorf("metadata-encryption-key must be 16 bytes, got %d", len(key))
	}
	if cfg.ScrubTime < 0 {
		return errors.New("scrub-time cannot be negative")
	}
	if _, err := cfg.ParseImageSizeCap(); err != nil {
		return err
	}
	switch cfg.DefaultStore {
	case "file", "s3", "http", "https":
	default:
		return errors.Errorf("unknown default store scheme %q", cfg.DefaultStore)
	}
	return nil
}

// ParseImageSizeCap resolves the human readable size cap to bytes. Zero
// means unlimited.
func (cfg *Config) ParseImageSizeCap() (int64, error) {
	if cfg.ImageSizeCap == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(cfg.ImageSizeCap)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid image-size-cap %q", cfg.ImageSizeCap)
	}
	return n, nil
}

// CatalogRetryInterval returns the configured retry pause, defaulting
// to one second.
func (cfg *Config) CatalogRetryInterval() time.Duration {
	if cfg.CatalogRetrySeconds <= 0 {
		return time.Second
	}
	return time.Duration(cfg.CatalogRetrySeconds) * time.Second
}

// ScrubGracePeriod returns the scrub-time as a duration.
func (cfg *Config) ScrubGracePeriod() time.Duration {
	return time.Duration(cfg.ScrubTime) * time.Second
}
