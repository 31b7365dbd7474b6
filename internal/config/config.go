// Package config loads the service configuration from a YAML file with
// secrets taken from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teresa-solution/fiscal-compliance-service/internal/anaf"
	"github.com/teresa-solution/fiscal-compliance-service/internal/ratelimit"
	"github.com/teresa-solution/fiscal-compliance-service/internal/service"
	"github.com/teresa-solution/fiscal-compliance-service/internal/store"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Server     ServerConfig               `yaml:"server"`
	Log        LogConfig                  `yaml:"log"`
	Store      string                     `yaml:"store"`
	Database   DatabaseConfig             `yaml:"database"`
	Redis      RedisConfig                `yaml:"redis"`
	ANAF       anaf.Config                `yaml:"anaf"`
	RateLimits map[string]ratelimit.Limit `yaml:"rate_limits"`
	Scheduler  service.SchedulerConfig    `yaml:"scheduler"`

	// EncryptionSecret derives the key protecting stored tokens.
	EncryptionSecret string `yaml:"encryption_secret"`
}

type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// URL returns the connection string understood by both pgx and lib/pq.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

func (d DatabaseConfig) Pool() store.PoolConfig {
	return store.PoolConfig{
		DSN:             d.URL(),
		MaxConns:        d.MaxConns,
		MinConns:        d.MinConns,
		MaxConnLifetime: d.MaxConnLifetime,
		MaxConnIdleTime: d.MaxConnIdleTime,
	}
}

// RedisConfig is optional. Without an address authorization state is kept
// in process and events are only logged.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{GRPCAddr: ":50051", HTTPAddr: ":8080"},
		Log:    LogConfig{Level: "info", Format: "json"},
		Store:  StorePostgres,
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "admin",
			Name:            "fiscal_compliance",
			SSLMode:         "disable",
			MaxConns:        20,
			MinConns:        5,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
		},
		ANAF:       anaf.DefaultConfig(),
		RateLimits: map[string]ratelimit.Limit{ratelimit.ANAF: ratelimit.DefaultANAF},
		Scheduler:  service.DefaultSchedulerConfig(),
	}
}

// Load reads path over the defaults, then applies environment overrides
// and finally overrides, typically from command flags. An empty path
// yields the defaults plus environment.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"ANAF_CLIENT_ID":     &c.ANAF.ClientID,
		"ANAF_CLIENT_SECRET": &c.ANAF.ClientSecret,
		"ANAF_REDIRECT_URL":  &c.ANAF.RedirectURL,
		"DATABASE_HOST":      &c.Database.Host,
		"DATABASE_USER":      &c.Database.User,
		"DATABASE_PASSWORD":  &c.Database.Password,
		"DATABASE_NAME":      &c.Database.Name,
		"ENCRYPTION_SECRET":  &c.EncryptionSecret,
		"REDIS_ADDR":         &c.Redis.Addr,
		"REDIS_PASSWORD":     &c.Redis.Password,
		"LOG_LEVEL":          &c.Log.Level,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	if v, ok := lookup("DATABASE_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_PORT %q: %w", v, err)
		}
		c.Database.Port = port
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.Database.Host == "" || c.Database.Name == "" {
			return fmt.Errorf("database host and name are required")
		}
		if c.EncryptionSecret == "" {
			return fmt.Errorf("encryption_secret is required with the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.ANAF.AuthBaseURL == "" || c.ANAF.APIBaseURL == "" {
		return fmt.Errorf("anaf endpoints are required")
	}
	if c.Scheduler.TokenRefresh <= 0 || c.Scheduler.Reconcile <= 0 || c.Scheduler.InboundSync <= 0 {
		return fmt.Errorf("scheduler intervals must be positive")
	}
	for name, l := range c.RateLimits {
		if l.Rate <= 0 || l.Burst <= 0 {
			return fmt.Errorf("rate limit %q must have positive rate and burst", name)
		}
	}
	return nil
}
