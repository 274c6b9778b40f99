// Package config holds the process-wide framework settings. Defaults
// cover a local broker; Load reads overrides from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/warren-mq/warren/message"
)

// Config is the process-wide configuration record. Per-resource and
// per-call overrides layer on top of these values.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Vhost    string

	AutomaticallyRecover    bool
	NetworkRecoveryInterval time.Duration
	ConnectionTimeout       time.Duration
	ReadTimeout             time.Duration
	WriteTimeout            time.Duration
	Heartbeat               time.Duration
	ContinuationTimeout     time.Duration

	ChannelPrefetch int
	RPCTimeout      time.Duration
	PoolSize        int

	HealthCheckInterval time.Duration
	HealthCheckFile     string
	HealthHTTPAddr      string

	ControllerNamespace string

	ExchangeOptions message.ExchangeOptions
	QueueOptions    message.QueueOptions

	LogLevel  string
	LogFormat string
}

// Default returns the built-in configuration for a local broker.
func Default() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5672,
		Username: "guest",
		Password: "guest",
		Vhost:    "/",

		AutomaticallyRecover:    true,
		NetworkRecoveryInterval: 5 * time.Second,
		ConnectionTimeout:       5 * time.Second,
		ReadTimeout:             10 * time.Second,
		WriteTimeout:            10 * time.Second,
		Heartbeat:               10 * time.Second,
		ContinuationTimeout:     15 * time.Second,

		ChannelPrefetch: 10,
		RPCTimeout:      5 * time.Second,
		PoolSize:        5,

		HealthCheckInterval: 30 * time.Second,

		ExchangeOptions: message.ExchangeOptions{Durable: true},
		QueueOptions:    message.QueueOptions{Durable: true},

		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Load builds a Config from the environment, starting from Default.
// A .env file is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	cfg.Host = getEnv("RABBITMQ_HOST", cfg.Host)
	cfg.Port = getInt("RABBITMQ_PORT", cfg.Port)
	cfg.Username = getEnv("RABBITMQ_USERNAME", cfg.Username)
	cfg.Password = getEnv("RABBITMQ_PASSWORD", cfg.Password)
	cfg.Vhost = getEnv("RABBITMQ_VHOST", cfg.Vhost)

	cfg.AutomaticallyRecover = getBool("RABBITMQ_AUTO_RECOVER", cfg.AutomaticallyRecover)
	cfg.NetworkRecoveryInterval = getDuration("RABBITMQ_RECOVERY_INTERVAL", cfg.NetworkRecoveryInterval)
	cfg.ConnectionTimeout = getDuration("RABBITMQ_CONNECTION_TIMEOUT", cfg.ConnectionTimeout)
	cfg.ReadTimeout = getDuration("RABBITMQ_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getDuration("RABBITMQ_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.Heartbeat = getDuration("RABBITMQ_HEARTBEAT", cfg.Heartbeat)
	cfg.ContinuationTimeout = getDuration("RABBITMQ_CONTINUATION_TIMEOUT", cfg.ContinuationTimeout)

	cfg.ChannelPrefetch = getInt("CHANNEL_PREFETCH", cfg.ChannelPrefetch)
	cfg.RPCTimeout = getDuration("RPC_TIMEOUT", cfg.RPCTimeout)
	cfg.PoolSize = getInt("CONNECTION_POOL_SIZE", cfg.PoolSize)

	cfg.HealthCheckInterval = getDuration("HEALTH_CHECK_INTERVAL", cfg.HealthCheckInterval)
	cfg.HealthCheckFile = getEnv("HEALTH_CHECK_FILE", cfg.HealthCheckFile)
	cfg.HealthHTTPAddr = getEnv("HEALTH_HTTP_ADDR", cfg.HealthHTTPAddr)

	cfg.ControllerNamespace = getEnv("CONTROLLER_NAMESPACE", cfg.ControllerNamespace)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid RABBITMQ_PORT %d", cfg.Port)
	}
	if cfg.PoolSize < 1 {
		return nil, fmt.Errorf("invalid CONNECTION_POOL_SIZE %d", cfg.PoolSize)
	}
	return cfg, nil
}

// URL renders the AMQP URI for this configuration.
func (c *Config) URL() string {
	vhost := c.Vhost
	if vhost == "" {
		vhost = "/"
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		url.QueryEscape(c.Username),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		url.QueryEscape(strings.TrimPrefix(vhost, "/")),
	)
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v == "true" || v == "1"
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
