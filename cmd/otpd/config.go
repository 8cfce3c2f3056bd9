package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type serverConfig struct {
	Addr string `yaml:"addr"`
}

type redisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type smtpConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	Subject  string `yaml:"subject"`
}

// duration lets YAML carry values like "10m"; yaml.v3 has no native
// time.Duration decoding.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = duration(parsed)
	return nil
}

type otpConfig struct {
	Digits         int      `yaml:"digits"`
	TTL            duration `yaml:"ttl"`
	MaxAttempts    int      `yaml:"max_attempts"`
	RateWindow     duration `yaml:"rate_window"`
	RateMaxIssued  int      `yaml:"rate_max_issued"`
	DefaultPurpose string   `yaml:"default_purpose"`
	// ExposeCode returns generated codes in API responses. Development only.
	ExposeCode bool `yaml:"expose_code"`
}

type appConfig struct {
	Server serverConfig `yaml:"server"`
	Redis  redisConfig  `yaml:"redis"`
	SMTP   smtpConfig   `yaml:"smtp"`
	OTP    otpConfig    `yaml:"otp"`
	LogDev bool         `yaml:"log_dev"`
}

func loadConfig(path string) (*appConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := &appConfig{}
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = envOr("REDIS_ADDR", "localhost:6379")
	}
	if cfg.Redis.Password == "" {
		cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}
	if cfg.SMTP.Password == "" {
		cfg.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
