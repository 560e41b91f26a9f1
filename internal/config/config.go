package config

import (
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/mxverify/mxverify/internal/dispatch"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	DNS        DNSConfig
	Probe      ProbeConfig
	Dispatcher DispatcherConfig
	Profiles   map[string]dispatch.Budget
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdleConns   int
}

type RedisConfig struct {
	URL string
}

type AuthConfig struct {
	JWTSecret string
	Disabled  bool
}

type DNSConfig struct {
	Server   string
	Timeout  time.Duration
	CacheTTL time.Duration
}

type ProbeConfig struct {
	HelloHost string
	FromEmail string
	Timeout   time.Duration
	Ports     []string
}

type DispatcherConfig struct {
	WorkerCount        int
	PopTimeout         time.Duration
	MaxEmailsPerBatch  int
	MaxRecheckAttempts int
	RecheckBaseDelay   time.Duration
	RecheckMaxDelay    time.Duration
	StuckRequestAge    time.Duration
	MetricsPort        string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("MXVERIFY")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.maxconnections", 25)
	viper.SetDefault("database.maxidleconns", 5)
	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("dns.server", "8.8.8.8:53")
	viper.SetDefault("dns.timeout", "5s")
	viper.SetDefault("dns.cachettl", "10m")
	viper.SetDefault("probe.hellohost", "verify.mxverify.io")
	viper.SetDefault("probe.fromemail", "postmaster@mxverify.io")
	viper.SetDefault("probe.timeout", "15s")
	viper.SetDefault("probe.ports", []string{"25"})
	viper.SetDefault("dispatcher.workercount", 4)
	viper.SetDefault("dispatcher.poptimeout", "5s")
	viper.SetDefault("dispatcher.maxemailsperbatch", 10000)
	viper.SetDefault("dispatcher.maxrecheckattempts", 2)
	viper.SetDefault("dispatcher.recheckbasedelay", "30s")
	viper.SetDefault("dispatcher.recheckmaxdelay", "10m")
	viper.SetDefault("dispatcher.stuckrequestage", "1h")
	viper.SetDefault("dispatcher.metricsport", "9090")

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	// Default per-organization budgets if not configured
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = dispatch.DefaultBudgets()
	}

	return &cfg, nil
}
