package config

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	ParcelPoll ParcelPollConfig `yaml:"parcelpoll"`
}

type KafkaConfig struct {
	Host                       string `yaml:"host"`
	Port                       int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	DeliveriesUpdatedTopicName string `yaml:"deliveries_updated_topic_name"`
	RefreshRequestsTopicName   string `yaml:"refresh_requests_topic_name"`
	ConsumerGroup              string `yaml:"consumer_group"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	Password string `yaml:"password" env:"PARCELPOLL_REDIS_PASSWORD, overwrite"`
	DB       int    `yaml:"db" validate:"min=0"`
}

type ParcelPollConfig struct {
	UpstreamKind        string `yaml:"upstream_kind" validate:"required,oneof=structured legacy"`
	Credential          string `yaml:"credential" env:"PARCELPOLL_CREDENTIAL, overwrite" validate:"required_if=UpstreamKind structured"`
	PollIntervalMinutes int    `yaml:"poll_interval_minutes" validate:"min=10,max=60"`

	LegacyEndpointURL  string `yaml:"legacy_endpoint_url" validate:"required_if=UpstreamKind legacy,omitempty,url"`
	LegacySessionToken string `yaml:"legacy_session_token" env:"PARCELPOLL_LEGACY_SESSION_TOKEN, overwrite" validate:"required_if=UpstreamKind legacy"`

	StructuredBaseURL     string `yaml:"structured_base_url" validate:"omitempty,url"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" validate:"min=1"`
	UserAgent             string `yaml:"user_agent"`

	// Rate limit backoff: min(cap, base*2^n) with ±25% jitter.
	RateLimitBaseSeconds   int `yaml:"rate_limit_base_seconds" validate:"min=1"`
	RateLimitCapSeconds    int `yaml:"rate_limit_cap_seconds" validate:"gtefield=RateLimitBaseSeconds"`
	RateLimitMaxRetries    int `yaml:"rate_limit_max_retries" validate:"min=1,max=20"`
	RequestBudgetPerMinute int `yaml:"request_budget_per_minute" validate:"min=0"` // 0 disables the shared budget

	SnapshotTTLSeconds int `yaml:"snapshot_ttl_seconds" validate:"min=0"` // 0 disables the snapshot cache
	LeaseSeconds       int `yaml:"lease_seconds" validate:"min=0"`

	WorkerHTTPAddr string `yaml:"worker_http_addr" validate:"required"`
	SwaggerPath    string `yaml:"swagger_path"`
	LogLevel       string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

const (
	DefaultStructuredBaseURL = "https://api.parcel.app/external/deliveries/"
	DefaultUserAgent         = "ParcelPoll/1.0"
)

func (c RedisConfig) Enabled() bool { return c.Host != "" }

func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c KafkaConfig) Enabled() bool { return c.Host != "" }

func (c KafkaConfig) Brokers() []string {
	return []string{net.JoinHostPort(c.Host, strconv.Itoa(c.Port))}
}

func (c ParcelPollConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMinutes) * time.Minute
}

func (c ParcelPollConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return parse(context.Background(), data, envconfig.OsLookuper())
}

func parse(ctx context.Context, data []byte, env envconfig.Lookuper) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &config,
		Lookuper: env,
	}); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	config.setDefaults()

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func (c *Config) setDefaults() {
	p := &c.ParcelPoll
	if p.PollIntervalMinutes == 0 {
		p.PollIntervalMinutes = 10
	}
	if p.StructuredBaseURL == "" {
		p.StructuredBaseURL = DefaultStructuredBaseURL
	}
	if p.RequestTimeoutSeconds == 0 {
		p.RequestTimeoutSeconds = 10
	}
	if p.UserAgent == "" {
		p.UserAgent = DefaultUserAgent
	}
	if p.RateLimitBaseSeconds == 0 {
		p.RateLimitBaseSeconds = 60
	}
	if p.RateLimitCapSeconds == 0 {
		p.RateLimitCapSeconds = 600
	}
	if p.RateLimitMaxRetries == 0 {
		p.RateLimitMaxRetries = 5
	}
	if p.WorkerHTTPAddr == "" {
		p.WorkerHTTPAddr = ":8082"
	}
	if p.LogLevel == "" {
		p.LogLevel = "info"
	}

	if c.Redis.Host != "" && c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Kafka.Host != "" && c.Kafka.Port == 0 {
		c.Kafka.Port = 9092
	}
	if c.Kafka.ConsumerGroup == "" {
		c.Kafka.ConsumerGroup = "parcel-worker"
	}
}
