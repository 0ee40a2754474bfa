package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Boundary BoundaryConfig `yaml:"boundary" mapstructure:"boundary"`
	Overlay  OverlayConfig  `yaml:"overlay" mapstructure:"overlay"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the metric database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// BoundaryConfig locates the static boundary GeoJSON assets.
type BoundaryConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// Timeout returns the download timeout.
func (b BoundaryConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSecs) * time.Second
}

// OverlayConfig tunes the per-session overlay controller.
type OverlayConfig struct {
	PageSize           int     `yaml:"page_size" mapstructure:"page_size"`
	ZipBufferDeg       float64 `yaml:"zip_buffer_deg" mapstructure:"zip_buffer_deg"`
	ZipReloadThreshold float64 `yaml:"zip_reload_threshold" mapstructure:"zip_reload_threshold"`
	SessionIdleMins    int     `yaml:"session_idle_mins" mapstructure:"session_idle_mins"`
}

// SessionIdle returns how long an untouched session is kept.
func (o OverlayConfig) SessionIdle() time.Duration {
	return time.Duration(o.SessionIdleMins) * time.Minute
}

// RedisConfig configures the optional shared metric cache. An empty Addr
// disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	TTLMins  int    `yaml:"ttl_mins" mapstructure:"ttl_mins"`
}

// TTL returns the cache entry lifetime.
func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLMins) * time.Minute
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("ATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("boundary.base_url", "./assets")
	v.SetDefault("boundary.timeout_secs", 60)
	v.SetDefault("boundary.rate_limit", 5)
	v.SetDefault("overlay.page_size", 1000)
	v.SetDefault("overlay.zip_buffer_deg", 0.5)
	v.SetDefault("overlay.zip_reload_threshold", 0.3)
	v.SetDefault("overlay.session_idle_mins", 30)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl_mins", 15)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
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

// Validate checks the settings a command mode depends on. Modes are
// "serve", "inspect", "import" and "migrate".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "serve", "inspect":
		problems = append(problems, c.storeProblems()...)
		if c.Boundary.BaseURL == "" {
			problems = append(problems, "boundary.base_url is required")
		}
		if c.Overlay.PageSize <= 0 {
			problems = append(problems, "overlay.page_size must be > 0")
		}
		if c.Overlay.ZipReloadThreshold <= 0 || c.Overlay.ZipReloadThreshold >= 1 {
			problems = append(problems, "overlay.zip_reload_threshold must be in (0, 1)")
		}
		if c.Overlay.ZipBufferDeg < 0 {
			problems = append(problems, "overlay.zip_buffer_deg must be >= 0")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "import", "migrate":
		problems = append(problems, c.storeProblems()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) storeProblems() []string {
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return []string{"store.driver must be postgres or sqlite"}
	}
	// sqlite falls back to a local atlas.db.
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return []string{"store.database_url is required for postgres"}
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
