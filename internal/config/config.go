// Package config loads remuxer settings from defaults, an optional config
// file and REMUX_ environment variables.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "REMUX"

// Config holds all application configuration
type Config struct {
	// HTTP Server
	HTTPAddr    string
	MaxBodySize int64

	// Storage
	StorageBackend     string // local or gcs
	StorageDir         string
	GCSBucket          string
	GCSPrefix          string
	GCSCredentialsFile string

	// Remuxer
	FragmentInterval        time.Duration
	QueueLength             int
	MessageBuffer           int
	OverflowPolicy          string // reject-newest or drop-oldest
	ReplaceCompatibleBrands bool

	// Logging
	LogLevel  string
	LogFormat string // text or json
}

// SetDefaults registers the default value of every key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.max_body_size", int64(1<<30))

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.dir", "./data/streams")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "")
	v.SetDefault("storage.gcs.credentials_file", "")

	v.SetDefault("remux.fragment_interval", 200*time.Millisecond)
	v.SetDefault("remux.queue_length", 1024)
	v.SetDefault("remux.message_buffer", 64)
	v.SetDefault("remux.overflow_policy", "reject-newest")
	v.SetDefault("remux.replace_compatible_brands", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// New returns a viper instance with defaults and environment bindings. A
// non-empty file is read as the config file; otherwise remux.yaml is looked up
// in the working directory and /etc/remux, and is optional.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", file)
		}
		return v, nil
	}
	v.SetConfigName("remux")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/remux")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "config: read remux.yaml")
		}
	}
	return v, nil
}

// Load builds a Config from v and validates it
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		HTTPAddr:                v.GetString("http.addr"),
		MaxBodySize:             v.GetInt64("http.max_body_size"),
		StorageBackend:          strings.ToLower(v.GetString("storage.backend")),
		StorageDir:              v.GetString("storage.dir"),
		GCSBucket:               v.GetString("storage.gcs.bucket"),
		GCSPrefix:               v.GetString("storage.gcs.prefix"),
		GCSCredentialsFile:      v.GetString("storage.gcs.credentials_file"),
		FragmentInterval:        v.GetDuration("remux.fragment_interval"),
		QueueLength:             v.GetInt("remux.queue_length"),
		MessageBuffer:           v.GetInt("remux.message_buffer"),
		OverflowPolicy:          strings.ToLower(v.GetString("remux.overflow_policy")),
		ReplaceCompatibleBrands: v.GetBool("remux.replace_compatible_brands"),
		LogLevel:                v.GetString("log.level"),
		LogFormat:               strings.ToLower(v.GetString("log.format")),
	}
	return c, c.Validate()
}

// Validate checks option values that have a fixed set of choices
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case "local":
	case "gcs":
		if c.GCSBucket == "" {
			return errors.New("config: storage.gcs.bucket is required for the gcs backend")
		}
	default:
		return errors.Errorf("config: unknown storage backend %q", c.StorageBackend)
	}
	switch c.OverflowPolicy {
	case "reject-newest", "drop-oldest":
	default:
		return errors.Errorf("config: unknown overflow policy %q", c.OverflowPolicy)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return errors.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "config")
	}
	if c.QueueLength <= 0 {
		return errors.New("config: remux.queue_length must be positive")
	}
	if c.MessageBuffer < 0 {
		return errors.New("config: remux.message_buffer must not be negative")
	}
	if c.FragmentInterval <= 0 {
		return errors.New("config: remux.fragment_interval must be positive")
	}
	return nil
}

// ConfigureLogger applies the log level and format to l
func (c *Config) ConfigureLogger(l *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return errors.Wrap(err, "config")
	}
	l.SetLevel(level)
	if c.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
