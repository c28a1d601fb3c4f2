package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campus-analytics/curate-cli/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Curate CurateConfig `yaml:"curate" mapstructure:"curate"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// CurateConfig configures the curation engine.
type CurateConfig struct {
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	RedisURL    string        `yaml:"redis_url" mapstructure:"redis_url"`
	ClaimLimit  int           `yaml:"claim_limit" mapstructure:"claim_limit"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ServerConfig configures the HTTP trigger server.
type ServerConfig struct {
	Port          int     `yaml:"port" mapstructure:"port"`
	RunsPerMinute float64 `yaml:"runs_per_minute" mapstructure:"runs_per_minute"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CURATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Defaults returns the configuration produced when no file or environment
// overrides are present. Used by `config init` to emit a starter file.
func Defaults() (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal defaults")
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.runs_per_minute", 6.0)
	v.SetDefault("curate.database_url", "")
	v.SetDefault("curate.redis_url", "")
	v.SetDefault("curate.claim_limit", 0) // 0 = claim the full pending set
	v.SetDefault("curate.pool.max_conns", 10)
	v.SetDefault("curate.pool.min_conns", 2)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
