// Package config loads and validates application configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// every subsystem (Store, Worker, Master, Query, Postgres, Kafka, Redis,
// Logging, Metrics).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Worker   WorkerConfig   `yaml:"worker"`
	Master   MasterConfig   `yaml:"master"`
	Query    QueryConfig    `yaml:"query"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// StoreConfig holds the etcd-backed metadata store connection parameters.
type StoreConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
	LeaseTTL    time.Duration `yaml:"leaseTTL"`
}

// WorkerConfig controls a Worker Node's RPC listener, shard-open retry
// policy, and search-execution pool.
type WorkerConfig struct {
	NodeName              string        `yaml:"nodeName"`
	Host                  string        `yaml:"host"`
	Port                  int           `yaml:"port"`
	HTTPPort              int           `yaml:"httpPort"`
	PoolCoreSize          int           `yaml:"poolCoreSize"`
	PoolMaxSize           int           `yaml:"poolMaxSize"`
	TimeoutPercentage     float64       `yaml:"timeoutPercentage"`
	FilterCacheCapacity   int           `yaml:"filterCacheCapacity"`
	FilterCacheTTL        time.Duration `yaml:"filterCacheTTL"`
	OpenRetryMaxAttempts  int           `yaml:"openRetryMaxAttempts"`
	OpenRetryInitialDelay time.Duration `yaml:"openRetryInitialDelay"`
	ShutdownGrace         time.Duration `yaml:"shutdownGrace"`
}

// MasterConfig controls the placement controller's election and
// reconciliation behaviour.
type MasterConfig struct {
	HTTPPort      int           `yaml:"httpPort"`
	RecoveryDelay time.Duration `yaml:"recoveryDelay"`
}

// QueryConfig controls the Query Coordinator's scatter/gather behaviour.
type QueryConfig struct {
	DefaultLimit       int           `yaml:"defaultLimit"`
	MaxResults         int           `yaml:"maxResults"`
	OverallTimeout     time.Duration `yaml:"overallTimeout"`
	RPCOverheadMargin  time.Duration `yaml:"rpcOverheadMargin"`
	UnreachableBackoff time.Duration `yaml:"unreachableBackoff"`
	ResultCacheTTL     time.Duration `yaml:"resultCacheTTL"`
}

// PostgresConfig holds PostgreSQL connection parameters for the audit log.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings for the cluster event
// bus.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumerGroup"`
	EventsTopic   string   `yaml:"eventsTopic"`
}

// RedisConfig holds Redis connection and caching parameters for the
// Coordinator's result cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment
// variable overrides, returning a Config populated with sensible defaults
// for any missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Endpoints:   []string{"localhost:2379"},
			DialTimeout: 5 * time.Second,
			LeaseTTL:    10 * time.Second,
		},
		Worker: WorkerConfig{
			NodeName:              "",
			Host:                  "localhost",
			Port:                  9100,
			HTTPPort:              9101,
			PoolCoreSize:          25,
			PoolMaxSize:           100,
			TimeoutPercentage:     0.75,
			FilterCacheCapacity:   1000,
			FilterCacheTTL:        10 * time.Minute,
			OpenRetryMaxAttempts:  5,
			OpenRetryInitialDelay: 200 * time.Millisecond,
			ShutdownGrace:         5 * time.Second,
		},
		Master: MasterConfig{
			HTTPPort:      9000,
			RecoveryDelay: 2 * time.Second,
		},
		Query: QueryConfig{
			DefaultLimit:       10,
			MaxResults:         1000,
			OverallTimeout:     5 * time.Second,
			RPCOverheadMargin:  200 * time.Millisecond,
			UnreachableBackoff: 30 * time.Second,
			ResultCacheTTL:     30 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "katta",
			User:            "katta",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "katta-events",
			EventsTopic:   "katta.cluster.events",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads KATTA_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KATTA_STORE_ENDPOINTS"); v != "" {
		cfg.Store.Endpoints = strings.Split(v, ",")
	}
	if v := os.Getenv("KATTA_WORKER_NODE_NAME"); v != "" {
		cfg.Worker.NodeName = v
	}
	if v := os.Getenv("KATTA_WORKER_HOST"); v != "" {
		cfg.Worker.Host = v
	}
	if v := os.Getenv("KATTA_WORKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Port = port
		}
	}
	if v := os.Getenv("KATTA_MASTER_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Master.HTTPPort = port
		}
	}
	if v := os.Getenv("KATTA_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("KATTA_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("KATTA_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KATTA_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("KATTA_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("KATTA_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
