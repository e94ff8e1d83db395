package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MqttConfig holds MQTT client configuration.
type MqttConfig struct {
	Broker    string `yaml:"Broker"`
	ClientID  string `yaml:"ClientID"`
	Username  string `yaml:"Username"`
	Password  string `yaml:"Password"`
	QoS       int    `yaml:"QoS"`
	KeepAlive int    `yaml:"KeepAlive"` // seconds
}

// ActorConfig identifies the requesting party stamped on every publish.
type ActorConfig struct {
	Type string `yaml:"Type"`
	ID   string `yaml:"ID"`
}

// FlowsConfig holds workflow request timeouts.
type FlowsConfig struct {
	RequestTimeout string `yaml:"RequestTimeout"` // e.g. "15s"
	BindTimeout    string `yaml:"BindTimeout"`    // e.g. "30s"
}

// GetRequestTimeout returns the request timeout as time.Duration.
func (f *FlowsConfig) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(f.RequestTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// GetBindTimeout returns the binding timeout as time.Duration.
func (f *FlowsConfig) GetBindTimeout() time.Duration {
	d, err := time.ParseDuration(f.BindTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// RetryConfig holds retry orchestration settings.
type RetryConfig struct {
	MaxAttempts int    `yaml:"MaxAttempts"`
	BaseDelay   string `yaml:"BaseDelay"` // e.g. "1s"
	MaxDelay    string `yaml:"MaxDelay"`  // e.g. "30s"
}

// GetBaseDelay returns the base retry delay as time.Duration.
func (r *RetryConfig) GetBaseDelay() time.Duration {
	d, err := time.ParseDuration(r.BaseDelay)
	if err != nil {
		return time.Second
	}
	return d
}

// GetMaxDelay returns the retry delay cap as time.Duration.
func (r *RetryConfig) GetMaxDelay() time.Duration {
	d, err := time.ParseDuration(r.MaxDelay)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// BleConfig holds battery scan settings.
type BleConfig struct {
	ProductNamePrefix string `yaml:"ProductNamePrefix"`
	Watchdog          string `yaml:"Watchdog"` // e.g. "90s"
}

// GetWatchdog returns the scan watchdog timeout as time.Duration.
func (b *BleConfig) GetWatchdog() time.Duration {
	d, err := time.ParseDuration(b.Watchdog)
	if err != nil {
		return 90 * time.Second
	}
	return d
}

// RedisConfig holds session store settings.
type RedisConfig struct {
	Addr       string `yaml:"Addr"`
	Password   string `yaml:"Password"`
	DB         int    `yaml:"DB"`
	ProfileTTL string `yaml:"ProfileTTL"` // e.g. "5m"
}

// GetProfileTTL returns the customer profile cache TTL as time.Duration.
func (r *RedisConfig) GetProfileTTL() time.Duration {
	d, err := time.ParseDuration(r.ProfileTTL)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// JournalConfig holds audit journal settings.
type JournalConfig struct {
	Topic      string `yaml:"Topic"`
	BatchSize  int    `yaml:"BatchSize"`
	FlushDelay string `yaml:"FlushDelay"` // e.g. "5s"
}

// GetFlushDelay returns the journal flush interval as time.Duration.
func (j *JournalConfig) GetFlushDelay() time.Duration {
	d, err := time.ParseDuration(j.FlushDelay)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// WritableConfig holds configuration changeable at runtime.
type WritableConfig struct {
	LogLevel string `yaml:"LogLevel"`
}

// AppConfig is the main configuration structure.
type AppConfig struct {
	Writable  WritableConfig `yaml:"Writable"`
	StationID string         `yaml:"StationID"`
	Actor     ActorConfig    `yaml:"Actor"`
	Mqtt      MqttConfig     `yaml:"Mqtt"`
	Flows     FlowsConfig    `yaml:"Flows"`
	Retry     RetryConfig    `yaml:"Retry"`
	Ble       BleConfig      `yaml:"Ble"`
	Redis     RedisConfig    `yaml:"Redis"`
	Journal   JournalConfig  `yaml:"Journal"`
}

// Validate checks the configuration and fills defaults.
func (c *AppConfig) Validate() error {
	if c.StationID == "" {
		return errors.New("StationID cannot be empty")
	}
	if c.Mqtt.Broker == "" {
		return errors.New("MQTT Broker cannot be empty")
	}
	if c.Mqtt.ClientID == "" {
		return errors.New("MQTT ClientID cannot be empty")
	}
	if c.Mqtt.QoS < 0 || c.Mqtt.QoS > 2 {
		return errors.New("MQTT QoS must be 0, 1, or 2")
	}
	if c.Mqtt.KeepAlive <= 0 {
		c.Mqtt.KeepAlive = 60
	}

	if c.Actor.Type == "" {
		c.Actor.Type = "rider"
	}
	if c.Actor.ID == "" {
		return errors.New("Actor ID cannot be empty")
	}

	if c.Flows.RequestTimeout == "" {
		c.Flows.RequestTimeout = "15s"
	}
	if c.Flows.BindTimeout == "" {
		c.Flows.BindTimeout = "30s"
	}

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay == "" {
		c.Retry.BaseDelay = "1s"
	}
	if c.Retry.MaxDelay == "" {
		c.Retry.MaxDelay = "30s"
	}

	if c.Ble.ProductNamePrefix == "" {
		c.Ble.ProductNamePrefix = "OVES"
	}
	if c.Ble.Watchdog == "" {
		c.Ble.Watchdog = "90s"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.ProfileTTL == "" {
		c.Redis.ProfileTTL = "5m"
	}

	if c.Journal.Topic == "" {
		c.Journal.Topic = fmt.Sprintf("journal/swap/%s", c.StationID)
	}
	if c.Journal.BatchSize <= 0 {
		c.Journal.BatchSize = 10
	}
	if c.Journal.FlushDelay == "" {
		c.Journal.FlushDelay = "5s"
	}

	if c.Writable.LogLevel == "" {
		c.Writable.LogLevel = "INFO"
	}

	return nil
}

// LoadConfig loads the configuration from a YAML file.
func LoadConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config AppConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Writable: WritableConfig{
			LogLevel: "DEBUG",
		},
		StationID: "station-001",
		Actor: ActorConfig{
			Type: "rider",
			ID:   "rider-001",
		},
		Mqtt: MqttConfig{
			Broker:    "tcp://localhost:1883",
			ClientID:  "app-swap-go-001",
			QoS:       1,
			KeepAlive: 60,
		},
		Flows: FlowsConfig{
			RequestTimeout: "15s",
			BindTimeout:    "30s",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   "1s",
			MaxDelay:    "30s",
		},
		Ble: BleConfig{
			ProductNamePrefix: "OVES",
			Watchdog:          "90s",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			ProfileTTL: "5m",
		},
		Journal: JournalConfig{
			Topic:      "journal/swap/station-001",
			BatchSize:  10,
			FlushDelay: "5s",
		},
	}
}
