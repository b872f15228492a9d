package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Apply  ApplyConfig  `yaml:"apply" mapstructure:"apply"`
	Fetch  FetchConfig  `yaml:"fetch" mapstructure:"fetch"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
}

// ApplyConfig configures batch apply behavior.
type ApplyConfig struct {
	ItemTimeoutSecs   int    `yaml:"item_timeout_secs" mapstructure:"item_timeout_secs"`
	CreateConcurrency int    `yaml:"create_concurrency" mapstructure:"create_concurrency"`
	Actor             string `yaml:"actor" mapstructure:"actor"`
}

// FetchConfig configures remote document retrieval.
type FetchConfig struct {
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries        int     `yaml:"retries" mapstructure:"retries"`
	RatePerSecond  float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	UserAgent      string  `yaml:"user_agent" mapstructure:"user_agent"`
	FTPTimeoutSecs int     `yaml:"ftp_timeout_secs" mapstructure:"ftp_timeout_secs"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("LEASE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("apply.item_timeout_secs", 30)
	v.SetDefault("apply.create_concurrency", 4)
	v.SetDefault("apply.actor", "cli")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.retries", 2)
	v.SetDefault("fetch.rate_per_second", 2)
	v.SetDefault("fetch.user_agent", "lease-ingest/1.0")
	v.SetDefault("fetch.ftp_timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks that the settings a command depends on are present.
func (c *Config) Validate(command string) error {
	var missing []string

	needsStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				missing = append(missing, "store.database_url is required for the postgres driver")
			}
		case "sqlite":
			// database_url optional: the CLI falls back to a local file.
		default:
			missing = append(missing, "store.driver must be postgres or sqlite")
		}
	}

	switch command {
	case "ingest", "session", "listings", "migrate":
		needsStore()
	case "serve":
		needsStore()
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			missing = append(missing, "server.port must be between 1 and 65535")
		}
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
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
