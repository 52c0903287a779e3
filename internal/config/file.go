package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config for YAML files. Durations are Go duration strings ("500ms").
// Absent keys leave the current value untouched.
type fileConfig struct {
	Client struct {
		APIBaseURL      *string `yaml:"api_base_url"`
		TokenDBPath     *string `yaml:"token_db_path"`
		RequestTimeout  *string `yaml:"request_timeout"`
		PollInterval    *string `yaml:"poll_interval"`
		MaxPollAttempts *int    `yaml:"poll_max_attempts"`
		SpeakResponses  *bool   `yaml:"speak_responses"`
		StrictRoles     *bool   `yaml:"strict_roles"`
		BridgeAddr      *string `yaml:"bridge_addr"`
	} `yaml:"client"`
	Server struct {
		Port             *string `yaml:"port"`
		FrontendURL      *string `yaml:"frontend_url"`
		DBPath           *string `yaml:"db_path"`
		Workers          *int    `yaml:"workers"`
		QueueSize        *int    `yaml:"job_queue_size"`
		ResponderLatency *string `yaml:"responder_latency"`
		RateLimit        struct {
			RequestsPerWindow *int    `yaml:"requests"`
			WindowDuration    *string `yaml:"window"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	ConversationLog struct {
		Enabled   *bool   `yaml:"enabled"`
		Dir       *string `yaml:"dir"`
		QueueSize *int    `yaml:"queue_size"`
	} `yaml:"conversation_log"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	c := &cfg.Client
	setString(&c.APIBaseURL, fc.Client.APIBaseURL)
	setString(&c.TokenDBPath, fc.Client.TokenDBPath)
	setString(&c.BridgeAddr, fc.Client.BridgeAddr)
	setInt(&c.MaxPollAttempts, fc.Client.MaxPollAttempts)
	setBool(&c.SpeakResponses, fc.Client.SpeakResponses)
	setBool(&c.StrictRoles, fc.Client.StrictRoles)
	if err := setDuration(&c.RequestTimeout, fc.Client.RequestTimeout, "client.request_timeout"); err != nil {
		return err
	}
	if err := setDuration(&c.PollInterval, fc.Client.PollInterval, "client.poll_interval"); err != nil {
		return err
	}

	s := &cfg.Server
	setString(&s.Port, fc.Server.Port)
	setString(&s.FrontendURL, fc.Server.FrontendURL)
	setString(&s.DBPath, fc.Server.DBPath)
	setInt(&s.Workers, fc.Server.Workers)
	setInt(&s.QueueSize, fc.Server.QueueSize)
	setInt(&s.RateLimit.RequestsPerWindow, fc.Server.RateLimit.RequestsPerWindow)
	if err := setDuration(&s.ResponderLatency, fc.Server.ResponderLatency, "server.responder_latency"); err != nil {
		return err
	}
	if err := setDuration(&s.RateLimit.WindowDuration, fc.Server.RateLimit.WindowDuration, "server.rate_limit.window"); err != nil {
		return err
	}

	l := &cfg.ConversationLog
	setBool(&l.Enabled, fc.ConversationLog.Enabled)
	setString(&l.Dir, fc.ConversationLog.Dir)
	setInt(&l.QueueSize, fc.ConversationLog.QueueSize)

	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, key string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
