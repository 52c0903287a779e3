// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPollInterval is the fixed delay between completion status checks.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultMaxPollAttempts bounds polling to roughly one minute at the default interval.
	DefaultMaxPollAttempts = 120
)

// Config holds all application configuration.
type Config struct {
	Client          ClientConfig
	Server          ServerConfig
	ConversationLog ConversationLogConfig
}

// ClientConfig controls the chat client and its local bridge.
type ClientConfig struct {
	APIBaseURL      string
	TokenDBPath     string
	RequestTimeout  time.Duration
	PollInterval    time.Duration
	MaxPollAttempts int
	SpeakResponses  bool
	StrictRoles     bool   // Fail history loads on unknown roles instead of mapping them to assistant.
	BridgeAddr      string // Listen address of the websocket UI bridge.
}

// ServerConfig controls the development backend.
type ServerConfig struct {
	Port             string
	FrontendURL      string
	DBPath           string
	Workers          int
	QueueSize        int
	ResponderLatency time.Duration
	RateLimit        RateLimitConfig
}

// RateLimitConfig controls per-user submission throttling on the development backend.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls NDJSON transcript logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from an optional YAML file (ADVISOR_CONFIG) and then
// environment variables. Environment values win over file values.
func Load() (*Config, error) {
	cfg := Default()

	if path := getEnv("ADVISOR_CONFIG", ""); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			APIBaseURL:      "http://localhost:8080/api/v1",
			TokenDBPath:     "./data/client.db",
			RequestTimeout:  15 * time.Second,
			PollInterval:    DefaultPollInterval,
			MaxPollAttempts: DefaultMaxPollAttempts,
			BridgeAddr:      "127.0.0.1:8090",
		},
		Server: ServerConfig{
			Port:             "8080",
			DBPath:           "./data/devserver.db",
			Workers:          4,
			QueueSize:        256,
			ResponderLatency: 2 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerWindow: 10,
				WindowDuration:    time.Minute,
			},
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   false,
			Dir:       "./data/logs/conversations",
			QueueSize: 1000,
		},
	}
}

func applyEnv(cfg *Config) {
	c := &cfg.Client
	c.APIBaseURL = getEnv("API_BASE_URL", c.APIBaseURL)
	c.TokenDBPath = getEnv("TOKEN_DB_PATH", c.TokenDBPath)
	c.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.RequestTimeout)
	c.PollInterval = getEnvDuration("POLL_INTERVAL", c.PollInterval)
	c.MaxPollAttempts = getEnvInt("POLL_MAX_ATTEMPTS", c.MaxPollAttempts)
	c.SpeakResponses = getEnvBool("SPEAK_RESPONSES", c.SpeakResponses)
	c.StrictRoles = getEnvBool("STRICT_ROLES", c.StrictRoles)
	c.BridgeAddr = getEnv("BRIDGE_ADDR", c.BridgeAddr)

	s := &cfg.Server
	s.Port = getEnv("PORT", s.Port)
	s.FrontendURL = getEnv("FRONTEND_URL", s.FrontendURL)
	s.DBPath = getEnv("DB_PATH", s.DBPath)
	s.Workers = getEnvInt("WORKERS", s.Workers)
	s.QueueSize = getEnvInt("JOB_QUEUE_SIZE", s.QueueSize)
	s.ResponderLatency = getEnvDuration("RESPONDER_LATENCY", s.ResponderLatency)
	s.RateLimit.RequestsPerWindow = getEnvInt("RATE_LIMIT_REQUESTS", s.RateLimit.RequestsPerWindow)
	s.RateLimit.WindowDuration = getEnvDuration("RATE_LIMIT_WINDOW", s.RateLimit.WindowDuration)

	l := &cfg.ConversationLog
	l.Enabled = getEnvBool("CONVERSATION_LOG_ENABLED", l.Enabled)
	l.Dir = getEnv("CONVERSATION_LOG_DIR", l.Dir)
	l.QueueSize = getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", l.QueueSize)
	if l.QueueSize <= 0 {
		l.QueueSize = 1000
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Client.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL cannot be empty")
	}
	if !strings.HasPrefix(c.Client.APIBaseURL, "http://") && !strings.HasPrefix(c.Client.APIBaseURL, "https://") {
		return fmt.Errorf("API_BASE_URL must be an http(s) URL")
	}
	if c.Client.TokenDBPath == "" {
		return fmt.Errorf("TOKEN_DB_PATH cannot be empty")
	}
	if c.Client.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be > 0")
	}
	if c.Client.MaxPollAttempts <= 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be > 0")
	}
	if c.Client.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Server.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Server.Workers <= 0 {
		return fmt.Errorf("WORKERS must be > 0")
	}
	if c.Server.QueueSize <= 0 {
		return fmt.Errorf("JOB_QUEUE_SIZE must be > 0")
	}
	if c.Server.RateLimit.RequestsPerWindow <= 0 || c.Server.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("rate limit requests and window must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if the backend serves a local frontend.
func (c *Config) IsDevelopment() bool {
	return c.Server.FrontendURL == "" ||
		strings.Contains(c.Server.FrontendURL, "localhost") ||
		strings.Contains(c.Server.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return parseBool(value, fallback)
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
