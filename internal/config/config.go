// Package config loads sitescout configuration from flags, SITESCOUT_*
// environment variables and an optional .sitescout.yaml file via viper.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jmylchreest/sitescout/internal/logger"
	"github.com/jmylchreest/sitescout/internal/server"
	"github.com/jmylchreest/sitescout/internal/session"
	"github.com/jmylchreest/sitescout/pkg/sitescout"
)

// EnvPrefix is the environment variable prefix, e.g. SITESCOUT_MAX_URLS or
// SITESCOUT_CRAWLER_BATCH_SIZE.
const EnvPrefix = "SITESCOUT"

// Config is the full application configuration. Engine settings sit at the
// top level; service settings live in their own sections.
type Config struct {
	sitescout.Config `mapstructure:",squash" yaml:",inline"`

	// MaxBodySize is a human size such as "10MB"; it feeds Fetch.MaxBodySize.
	MaxBodySize string `mapstructure:"max_body_size" yaml:"max_body_size" validate:"required"`

	Server   server.Config  `mapstructure:"server" yaml:"server"`
	Session  session.Config `mapstructure:"session" yaml:"session"`
	Snapshot SnapshotConfig `mapstructure:"snapshot" yaml:"snapshot"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// SnapshotConfig selects the snapshot store. An empty DSN disables
// snapshotting for the CLI and uses an in-memory store for the service.
type SnapshotConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Config:      sitescout.DefaultConfig(),
		MaxBodySize: "10MB",
		Server:      server.DefaultConfig(),
		Session:     session.DefaultConfig(),
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

// New returns a viper instance with defaults registered and environment
// lookup enabled.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every key of Default() on v. Registered keys are
// what lets AutomaticEnv and Unmarshal see values that only exist in the
// environment.
func SetDefaults(v *viper.Viper) {
	setDefaults(v, "", reflect.ValueOf(Default()))
}

func setDefaults(v *viper.Viper, prefix string, rv reflect.Value) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "-" {
			continue
		}
		fv := rv.Field(i)
		if opts == "squash" || field.Anonymous {
			setDefaults(v, prefix, fv)
			continue
		}
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		key := prefix + name
		if fv.Kind() == reflect.Struct {
			setDefaults(v, key+".", fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// Load unmarshals v into a Config, resolves human sizes and validates the
// result. Validation errors name the offending field.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	size, err := humanize.ParseBytes(cfg.MaxBodySize)
	if err != nil {
		return Config{}, fmt.Errorf("invalid max_body_size %q: %w", cfg.MaxBodySize, err)
	}
	cfg.Fetch.MaxBodySize = int(size)
	cfg.Fetch.UserAgent = cfg.UserAgent
	if cfg.Crawler.UserAgent == "" {
		cfg.Crawler.UserAgent = cfg.UserAgent
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against its validate tags.
func Validate(cfg Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoggerOptions maps the log section onto logger options.
func (c Config) LoggerOptions() logger.Options {
	return logger.Options{
		Level: c.Log.Level,
		JSON:  c.Log.Format == "json",
	}
}
