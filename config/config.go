// Package config loads the ordermesh process configuration.
//
// Values come from, in increasing precedence: built-in defaults, the
// ordermesh.yaml file, and ORDERMESH_ environment variables where dots in a
// key become underscores (storage.postgres.url is ORDERMESH_STORAGE_POSTGRES_URL).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the default config file name.
const FileName = "ordermesh.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ORDERMESH"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMongoDB  = "mongodb"
)

// Change stream sources for the router.
const (
	SourceStore = "store"
	SourceKafka = "kafka"
	SourceRedis = "redis"
)

// Config is the process configuration.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service" yaml:"service"`
	Storage       StorageConfig       `mapstructure:"storage" yaml:"storage"`
	Stream        StreamConfig        `mapstructure:"stream" yaml:"stream"`
	Router        RouterConfig        `mapstructure:"router" yaml:"router"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

// ServiceConfig names the process and its gRPC listener.
type ServiceConfig struct {
	Name     string `mapstructure:"name" yaml:"name"`
	GRPCAddr string `mapstructure:"grpc_addr" yaml:"grpc_addr"`
}

// StorageConfig selects and configures the transactional store.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver" yaml:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	MySQL    MySQLConfig    `mapstructure:"mysql" yaml:"mysql"`
	MongoDB  MongoDBConfig  `mapstructure:"mongodb" yaml:"mongodb"`
}

type PostgresConfig struct {
	URL            string `mapstructure:"url" yaml:"url"`
	Schema         string `mapstructure:"schema" yaml:"schema"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections"`
}

type MySQLConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            string        `mapstructure:"port" yaml:"port"`
	Username        string        `mapstructure:"username" yaml:"username"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Database        string        `mapstructure:"database" yaml:"database"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri" yaml:"uri"`
	Database string `mapstructure:"database" yaml:"database"`
}

// StreamConfig selects where the router reads committed events from and
// where the relay publishes them.
type StreamConfig struct {
	Source       string        `mapstructure:"source" yaml:"source"`
	Consumer     string        `mapstructure:"consumer" yaml:"consumer"`
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Kafka        KafkaConfig   `mapstructure:"kafka" yaml:"kafka"`
	Redis        RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
	Group   string   `mapstructure:"group" yaml:"group"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Stream   string `mapstructure:"stream" yaml:"stream"`
	Group    string `mapstructure:"group" yaml:"group"`
}

// RouterConfig configures downstream delivery.
type RouterConfig struct {
	HandlerTimeout  time.Duration `mapstructure:"handler_timeout" yaml:"handler_timeout"`
	RedeliveryDelay time.Duration `mapstructure:"redelivery_delay" yaml:"redelivery_delay"`
	CartAddr        string        `mapstructure:"cart_addr" yaml:"cart_addr"`
	OrderAddr       string        `mapstructure:"order_addr" yaml:"order_addr"`
	SNSTopicARN     string        `mapstructure:"sns_topic_arn" yaml:"sns_topic_arn"`
	AWSRegion       string        `mapstructure:"aws_region" yaml:"aws_region"`
	// WebhookURL receives every committed event as a JSON POST when set.
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
}

type ObservabilityConfig struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // json, console
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Exporter is stdout or none.
	Exporter string `mapstructure:"exporter" yaml:"exporter"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "ordermesh",
			GRPCAddr: ":50051",
		},
		Storage: StorageConfig{
			Driver: DriverMemory,
			Postgres: PostgresConfig{
				Schema:         "ordermesh",
				MaxConnections: 25,
			},
			MySQL: MySQLConfig{
				Host:            "localhost",
				Port:            "3306",
				Username:        "root",
				Database:        "ordermesh",
				MaxOpenConns:    25,
				MaxIdleConns:    10,
				ConnMaxLifetime: 10 * time.Minute,
				LogLevel:        "warn",
			},
			MongoDB: MongoDBConfig{
				URI:      "mongodb://localhost:27017/?replicaSet=rs0",
				Database: "ordermesh",
			},
		},
		Stream: StreamConfig{
			Source:       SourceStore,
			Consumer:     "router",
			BatchSize:    100,
			PollInterval: 200 * time.Millisecond,
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topic:   "ordermesh.events",
				Group:   "ordermesh-router",
			},
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Stream: "ordermesh:events",
				Group:  "ordermesh-router",
			},
		},
		Router: RouterConfig{
			HandlerTimeout:  500 * time.Millisecond,
			RedeliveryDelay: time.Second,
			AWSRegion:       "us-east-1",
		},
		Observability: ObservabilityConfig{
			Log: LogConfig{Level: "info", Format: "json"},
			Metrics: MetricsConfig{
				Addr:      ":9090",
				Namespace: "ordermesh",
			},
			Tracing: TracingConfig{Exporter: "none"},
		},
	}
}

// Load reads configuration. An empty path searches the working directory
// for ordermesh.yaml and falls back to defaults when none exists; an
// explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("ordermesh/config: failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ordermesh/config: failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key of def so environment overrides apply
// even when the file omits the key.
func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("service.name", def.Service.Name)
	v.SetDefault("service.grpc_addr", def.Service.GRPCAddr)

	v.SetDefault("storage.driver", def.Storage.Driver)
	v.SetDefault("storage.postgres.url", def.Storage.Postgres.URL)
	v.SetDefault("storage.postgres.schema", def.Storage.Postgres.Schema)
	v.SetDefault("storage.postgres.max_connections", def.Storage.Postgres.MaxConnections)
	v.SetDefault("storage.mysql.host", def.Storage.MySQL.Host)
	v.SetDefault("storage.mysql.port", def.Storage.MySQL.Port)
	v.SetDefault("storage.mysql.username", def.Storage.MySQL.Username)
	v.SetDefault("storage.mysql.password", def.Storage.MySQL.Password)
	v.SetDefault("storage.mysql.database", def.Storage.MySQL.Database)
	v.SetDefault("storage.mysql.max_open_conns", def.Storage.MySQL.MaxOpenConns)
	v.SetDefault("storage.mysql.max_idle_conns", def.Storage.MySQL.MaxIdleConns)
	v.SetDefault("storage.mysql.conn_max_lifetime", def.Storage.MySQL.ConnMaxLifetime)
	v.SetDefault("storage.mysql.log_level", def.Storage.MySQL.LogLevel)
	v.SetDefault("storage.mongodb.uri", def.Storage.MongoDB.URI)
	v.SetDefault("storage.mongodb.database", def.Storage.MongoDB.Database)

	v.SetDefault("stream.source", def.Stream.Source)
	v.SetDefault("stream.consumer", def.Stream.Consumer)
	v.SetDefault("stream.batch_size", def.Stream.BatchSize)
	v.SetDefault("stream.poll_interval", def.Stream.PollInterval)
	v.SetDefault("stream.kafka.brokers", def.Stream.Kafka.Brokers)
	v.SetDefault("stream.kafka.topic", def.Stream.Kafka.Topic)
	v.SetDefault("stream.kafka.group", def.Stream.Kafka.Group)
	v.SetDefault("stream.redis.addr", def.Stream.Redis.Addr)
	v.SetDefault("stream.redis.password", def.Stream.Redis.Password)
	v.SetDefault("stream.redis.db", def.Stream.Redis.DB)
	v.SetDefault("stream.redis.stream", def.Stream.Redis.Stream)
	v.SetDefault("stream.redis.group", def.Stream.Redis.Group)

	v.SetDefault("router.handler_timeout", def.Router.HandlerTimeout)
	v.SetDefault("router.redelivery_delay", def.Router.RedeliveryDelay)
	v.SetDefault("router.cart_addr", def.Router.CartAddr)
	v.SetDefault("router.order_addr", def.Router.OrderAddr)
	v.SetDefault("router.sns_topic_arn", def.Router.SNSTopicARN)
	v.SetDefault("router.aws_region", def.Router.AWSRegion)
	v.SetDefault("router.webhook_url", def.Router.WebhookURL)

	v.SetDefault("observability.log.level", def.Observability.Log.Level)
	v.SetDefault("observability.log.format", def.Observability.Log.Format)
	v.SetDefault("observability.metrics.enabled", def.Observability.Metrics.Enabled)
	v.SetDefault("observability.metrics.addr", def.Observability.Metrics.Addr)
	v.SetDefault("observability.metrics.namespace", def.Observability.Metrics.Namespace)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.exporter", def.Observability.Tracing.Exporter)
}

// Validate returns every problem found; an empty result means valid.
func (c *Config) Validate() []string {
	var problems []string

	if c.Service.Name == "" {
		problems = append(problems, "service.name is required")
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.Postgres.URL == "" {
			problems = append(problems, "storage.postgres.url is required for the postgres driver")
		}
	case DriverMySQL:
		if c.Storage.MySQL.Host == "" || c.Storage.MySQL.Database == "" {
			problems = append(problems, "storage.mysql.host and storage.mysql.database are required for the mysql driver")
		}
	case DriverMongoDB:
		if c.Storage.MongoDB.URI == "" {
			problems = append(problems, "storage.mongodb.uri is required for the mongodb driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.driver must be one of memory, postgres, mysql, mongodb (got %q)", c.Storage.Driver))
	}

	switch c.Stream.Source {
	case SourceStore:
		if c.Storage.Driver == DriverMySQL {
			problems = append(problems, "stream.source store is not available for the mysql driver")
		}
	case SourceKafka:
		if len(c.Stream.Kafka.Brokers) == 0 || c.Stream.Kafka.Topic == "" {
			problems = append(problems, "stream.kafka.brokers and stream.kafka.topic are required for the kafka source")
		}
	case SourceRedis:
		if c.Stream.Redis.Addr == "" {
			problems = append(problems, "stream.redis.addr is required for the redis source")
		}
	default:
		problems = append(problems, fmt.Sprintf("stream.source must be one of store, kafka, redis (got %q)", c.Stream.Source))
	}
	if c.Stream.Consumer == "" {
		problems = append(problems, "stream.consumer is required")
	}

	if c.Router.HandlerTimeout <= 0 {
		problems = append(problems, "router.handler_timeout must be positive")
	}
	if u := c.Router.WebhookURL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		problems = append(problems, "router.webhook_url must be an http or https URL")
	}

	switch c.Observability.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		problems = append(problems, "observability.tracing.exporter must be stdout or none")
	}

	return problems
}

// DefaultYAML returns the default configuration as a commented YAML document.
func DefaultYAML() (string, error) {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("ordermesh/config: failed to marshal defaults: %w", err)
	}
	return "# ordermesh configuration\n" +
		"# Every key can be overridden with an ORDERMESH_ environment variable,\n" +
		"# e.g. storage.postgres.url as ORDERMESH_STORAGE_POSTGRES_URL.\n\n" +
		string(data), nil
}

// Save writes c as YAML to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("ordermesh/config: failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Exists reports whether dir contains a config file.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil
}
