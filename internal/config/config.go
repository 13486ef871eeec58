// Package config loads revertstore daemon configuration.
//
// Sources, lowest precedence first: defaults, an optional YAML file, and
// REVERTSTORE_* environment variables (storage.path -> REVERTSTORE_STORAGE_PATH).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "REVERTSTORE"

// Config is the root configuration structure
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
	Revert  RevertConfig  `mapstructure:"revert"`
	Schema  SchemaConfig  `mapstructure:"schema"`
	Access  AccessConfig  `mapstructure:"access"`
}

// ServerConfig contains listener settings
type ServerConfig struct {
	GrpcPort        int           `mapstructure:"grpc_port" validate:"min=1,max=65535"`
	MetricsPort     int           `mapstructure:"metrics_port" validate:"min=1,max=65535,nefield=GrpcPort"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`
}

// StorageConfig selects and tunes the version store backend
type StorageConfig struct {
	Backend    string        `mapstructure:"backend" validate:"oneof=memory badger sqlite"`
	Path       string        `mapstructure:"path" validate:"required_unless=Backend memory"`
	SyncWrites bool          `mapstructure:"sync_writes"`
	GCInterval time.Duration `mapstructure:"gc_interval" validate:"min=0"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Pretty     bool   `mapstructure:"pretty"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// RevertConfig tunes the revert policy
type RevertConfig struct {
	MinVersion int `mapstructure:"min_version" validate:"min=1"`
}

// SchemaConfig points at the record type descriptors file; empty means none
type SchemaConfig struct {
	Path string `mapstructure:"path"`
}

// AccessConfig lists actors for the static authorizer. "*" matches everyone.
type AccessConfig struct {
	Viewers []string `mapstructure:"viewers" validate:"dive,required"`
	Editors []string `mapstructure:"editors" validate:"dive,required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from path (optional) and the environment
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

// Validate checks the struct tags and reports every failing field
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Storage
	v.SetDefault("storage.backend", "badger")
	v.SetDefault("storage.path", "./data/revertstore")
	v.SetDefault("storage.sync_writes", true)
	v.SetDefault("storage.gc_interval", 5*time.Minute)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.with_caller", false)

	// Revert
	v.SetDefault("revert.min_version", 2)

	// Schema
	v.SetDefault("schema.path", "")

	// Access
	v.SetDefault("access.viewers", []string{"*"})
	v.SetDefault("access.editors", []string{})
}
