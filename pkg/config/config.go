// Package config loads runtime settings for both pipelines. Precedence
// is flags > environment > profile file > defaults; flag overrides are
// applied by the commands after Load.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the immutable runtime configuration.
type Config struct {
	ArtifactsRoot  string `mapstructure:"artifacts_root" yaml:"artifacts_root" validate:"required"`
	RetentionHours int    `mapstructure:"retention_hours" yaml:"retention_hours" validate:"gt=0"`
	RedactionMode  string `mapstructure:"redaction_mode" yaml:"redaction_mode" validate:"oneof=off balanced strict"`
	RedactionSalt  string `mapstructure:"redaction_salt" yaml:"redaction_salt" validate:"required"`
	LockTTLMinutes int    `mapstructure:"lock_ttl_minutes" yaml:"lock_ttl_minutes" validate:"gt=0"`
	LockKey        string `mapstructure:"lock_key" yaml:"lock_key" validate:"required"`
	LogLevel       string `mapstructure:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat      string `mapstructure:"log_format" yaml:"log_format" validate:"oneof=json text"`
	LogFile        string `mapstructure:"log_file" yaml:"log_file"`
	OTLPEndpoint   string `mapstructure:"otel_exporter_otlp_endpoint" yaml:"otel_exporter_otlp_endpoint"`
}

// Load reads configuration from the environment, optionally layered on
// top of a YAML profile file.
func Load(profilePath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if profilePath != "" {
		v.SetConfigFile(profilePath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load profile %q: %w", profilePath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	cfg.RedactionMode = strings.ToLower(cfg.RedactionMode)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints after any overrides were applied.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var fields []string
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok {
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LogValue renders the configuration for structured logs. The redaction
// salt is deliberately absent.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("artifacts_root", c.ArtifactsRoot),
		slog.Int("retention_hours", c.RetentionHours),
		slog.String("redaction_mode", c.RedactionMode),
		slog.Int("lock_ttl_minutes", c.LockTTLMinutes),
		slog.String("lock_key", c.LockKey),
		slog.String("log_level", c.LogLevel),
		slog.String("log_format", c.LogFormat),
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("artifacts_root", "./artifacts")
	v.SetDefault("retention_hours", 48)
	v.SetDefault("redaction_mode", "balanced")
	v.SetDefault("redaction_salt", "preemptive-it-salt")
	v.SetDefault("lock_ttl_minutes", 30)
	v.SetDefault("lock_key", "locks/worker.lock")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_file", "")
	v.SetDefault("otel_exporter_otlp_endpoint", "")
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors) //nolint:errorlint // validator returns the slice directly
	if ok {
		*target = verrs
	}
	return ok
}
