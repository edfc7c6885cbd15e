package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	applogger "SabrLSM/pkg/logger"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"required,oneof=development staging production test"`
	Server      ServerConfig     `yaml:"server"`
	Logger      LoggerConfig     `yaml:"logger"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Pricing     PricingConfig    `yaml:"pricing"`
	Cache       CacheConfig      `yaml:"cache"`
	Redis       RedisConfig      `yaml:"redis"`
	Queue       QueueConfig      `yaml:"queue"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	CORS            bool          `yaml:"cors"`
	RateLimit       struct {
		Capacity     float64 `yaml:"capacity" default:"20" validate:"gt=0"`
		RefillPerSec float64 `yaml:"refill_per_sec" default:"5" validate:"gt=0"`
	} `yaml:"rate_limit"`
}

type LoggerConfig struct {
	applogger.Config `yaml:",inline"`

	Collect LogCollectConfig `yaml:"collect"`
}

// LogCollectConfig ships aggregated error logs to Kafka.
type LogCollectConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Topic          string        `yaml:"topic" default:"pricing.logs"`
	Interval       time.Duration `yaml:"interval" default:"30s"`
	CountThreshold int           `yaml:"count_threshold" default:"100" validate:"gt=0"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" default:"/metrics"`
}

// PricingConfig carries request defaults and service-side limits.
type PricingConfig struct {
	StepsPerPeriod   int           `yaml:"steps_per_period" default:"25" validate:"gt=0"`
	Degree           int           `yaml:"degree" default:"3" validate:"gte=0,lte=10"`
	NPaths           int           `yaml:"n_paths" default:"10000" validate:"gt=0"`
	Seed             uint64        `yaml:"seed" default:"12345"`
	MaxPaths         int           `yaml:"max_paths" default:"500000" validate:"gtefield=NPaths"`
	MaxGridPoints    int           `yaml:"max_grid_points" default:"50000000" validate:"gt=0"`
	Timeout          time.Duration `yaml:"timeout" default:"30s"`
	SweepWorkers     int           `yaml:"sweep_workers" default:"4" validate:"gt=0"`
	ConvergencePaths []int         `yaml:"convergence_paths" validate:"dive,gt=0"`
}

type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Mode          string        `yaml:"mode" default:"memory" validate:"oneof=memory layered"`
	TTL           time.Duration `yaml:"ttl" default:"1h"`
	MemoryMaxSize int           `yaml:"memory_max_size" default:"1000" validate:"gt=0"`
	Prefix        string        `yaml:"prefix" default:"sabrlsm"`
}

type RedisConfig struct {
	Host         string        `yaml:"host" default:"localhost"`
	Port         int           `yaml:"port" default:"6379"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size" default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
	PoolTimeout  time.Duration `yaml:"pool_timeout" default:"4s"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

type QueueConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Name        string        `yaml:"name" default:"pricing"`
	Workers     int           `yaml:"workers" default:"2" validate:"gt=0"`
	MaxRetries  int           `yaml:"max_retries" default:"3" validate:"gte=0"`
	BaseBackoff time.Duration `yaml:"base_backoff" default:"2s"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
	RequestTopic string   `yaml:"request_topic" default:"pricing.requests"`
	ResultTopic  string   `yaml:"result_topic" default:"pricing.results"`
	RequiredAcks int      `yaml:"required_acks" default:"-1"`
	Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"5"`
		Linger       time.Duration `yaml:"linger" default:"10ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"sabrlsm-pricer"`
		Workers    int           `yaml:"workers" default:"2" validate:"gt=0"`
		BufferSize int           `yaml:"buffer_size" default:"64" validate:"gt=0"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
		DLQTopic   string        `yaml:"dlq_topic" default:"pricing.requests.dlq"`
		MinBytes   int           `yaml:"min_bytes" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
	} `yaml:"consumer"`
	Pipeline struct {
		BufferSize int           `yaml:"buffer_size" default:"256" validate:"gt=0"`
		MaxRetries int           `yaml:"max_retries" default:"5"`
		BaseDelay  time.Duration `yaml:"base_delay" default:"100ms"`
	} `yaml:"pipeline"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"sabrlsm"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

var validate = validator.New()

// DefaultConvergencePaths are the path counts of a convergence study.
var DefaultConvergencePaths = []int{1000, 5000, 10000, 50000}

// Default returns a fully defaulted config, as used by the CLI drivers.
func Default() *Config {
	var c Config
	_ = c.finish()
	return &c
}

// Parse decodes YAML, fills defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.finish(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("SABRLSM_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			if _, err := fmt.Sscanf(port, "%d", &c.Redis.Port); err != nil {
				return fmt.Errorf("REDIS_ADDR: %w", err)
			}
		}
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	return c.Validate()
}

func (c *Config) finish() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("config defaults: %w", err)
	}
	if len(c.Pricing.ConvergencePaths) == 0 {
		c.Pricing.ConvergencePaths = append([]int(nil), DefaultConvergencePaths...)
	}
	return c.Validate()
}

// Validate checks struct tags plus the cross-section rules tags cannot
// express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("validate config: kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Cache.Mode == "layered" && c.Redis.Host == "" {
		return errors.New("validate config: redis.host is required for layered cache")
	}
	return nil
}
