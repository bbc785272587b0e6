package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full service configuration, loaded from a YAML file with
// ALPESCAB_-prefixed environment overrides.
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	GRPC      GRPCConfig      `json:"grpc"`
	Redis     RedisConfig     `json:"redis"`
	NATS      NATSConfig      `json:"nats"`
	Auth      AuthConfig      `json:"auth"`
	History   HistoryConfig   `json:"history"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Events    EventsConfig    `json:"events"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
	// Requests per second for read and write endpoints; zero disables the
	// Redis rate limiter.
	ReadRPS  int `json:"read_rps"`
	WriteRPS int `json:"write_rps"`
}

type GRPCConfig struct {
	Addr string `json:"addr"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type NATSConfig struct {
	URL     string `json:"url"`
	Subject string `json:"subject"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

type HistoryConfig struct {
	// Pause between the two reads of a history observation.
	Pause time.Duration `json:"pause"`
}

type DispatchConfig struct {
	// FenceTTL bounds how long a crashed process can hold a driver.
	FenceTTL time.Duration `json:"fence_ttl"`
}

type EventsConfig struct {
	PollInterval time.Duration `json:"poll_interval"`
	BatchSize    int           `json:"batch_size"`
	RetryMax     int           `json:"retry_max"`
}

type TelemetryConfig struct {
	// MaxPositionAge is how stale a driver position may be before ranking
	// ignores it.
	MaxPositionAge time.Duration `json:"max_position_age"`
}

// Load reads the YAML file at path, applies environment overrides and fills
// in defaults. An empty path skips the file and uses environment plus
// defaults only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	// Optional environment overrides, e.g. ALPESCAB_HTTP__ADDR=:9090.
	if err := k.Load(env.Provider("ALPESCAB_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "alpescab_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":9090"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "dispatch.events"
	}
	if c.History.Pause <= 0 {
		c.History.Pause = 30 * time.Second
	}
	if c.Dispatch.FenceTTL <= 0 {
		c.Dispatch.FenceTTL = 2 * time.Minute
	}
	if c.Events.PollInterval <= 0 {
		c.Events.PollInterval = 200 * time.Millisecond
	}
	if c.Events.BatchSize <= 0 {
		c.Events.BatchSize = 100
	}
	if c.Events.RetryMax <= 0 {
		c.Events.RetryMax = 3
	}
	if c.Telemetry.MaxPositionAge <= 0 {
		c.Telemetry.MaxPositionAge = 5 * time.Minute
	}
}

func (c *Config) validate() error {
	if c.HTTP.ReadRPS < 0 || c.HTTP.WriteRPS < 0 {
		return fmt.Errorf("http rate limits must be non-negative")
	}
	if (c.HTTP.ReadRPS > 0 || c.HTTP.WriteRPS > 0) && c.Redis.Addr == "" {
		return fmt.Errorf("rate limiting requires redis.addr")
	}
	return nil
}
