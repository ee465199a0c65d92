package core

import (
	"fmt"
	"strings"
	"time"
)

type DeliveryConfig struct {
	BaseDelay       time.Duration `koanf:"base_delay" mapstructure:"base_delay"`
	MaxDelay        time.Duration `koanf:"max_delay" mapstructure:"max_delay"`
	MaxAttempts     int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	CallTimeout     time.Duration `koanf:"call_timeout" mapstructure:"call_timeout"`
	Workers         int           `koanf:"workers" mapstructure:"workers"`
	PollInterval    time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
	IdleDelay       time.Duration `koanf:"idle_delay" mapstructure:"idle_delay"`
	SignatureHeader string        `koanf:"signature_header" mapstructure:"signature_header"`
}

type LogConfig struct {
	DefaultLimit int `koanf:"default_limit" mapstructure:"default_limit"`
	MaxLimit     int `koanf:"max_limit" mapstructure:"max_limit"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Delivery    DeliveryConfig `koanf:"delivery" mapstructure:"delivery"`
	Log         LogConfig      `koanf:"log" mapstructure:"log"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "dispatch",
		Delivery: DeliveryConfig{
			BaseDelay:       5 * time.Second,
			MaxDelay:        time.Hour,
			MaxAttempts:     8,
			CallTimeout:     10 * time.Second,
			Workers:         4,
			PollInterval:    time.Second,
			IdleDelay:       800 * time.Millisecond,
			SignatureHeader: "X-Webhook-Signature",
		},
		Log: LogConfig{
			DefaultLimit: 25,
			MaxLimit:     100,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Delivery.BaseDelay < 0 || c.Delivery.MaxDelay < 0 {
		return fmt.Errorf("core: delivery backoff delays must not be negative")
	}
	if c.Delivery.MaxDelay > 0 && c.Delivery.BaseDelay > c.Delivery.MaxDelay {
		return fmt.Errorf("core: delivery base_delay must not exceed max_delay")
	}
	if c.Delivery.MaxAttempts < 0 {
		return fmt.Errorf("core: delivery max_attempts must not be negative")
	}
	if c.Delivery.Workers < 0 {
		return fmt.Errorf("core: delivery workers must not be negative")
	}
	if c.Log.DefaultLimit < 0 || c.Log.MaxLimit < 0 {
		return fmt.Errorf("core: log limits must not be negative")
	}
	if c.Log.MaxLimit > 0 && c.Log.DefaultLimit > c.Log.MaxLimit {
		return fmt.Errorf("core: log default_limit must not exceed max_limit")
	}
	return nil
}
