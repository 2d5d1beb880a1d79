package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration file.
type Config struct {
	Vendor   VendorConfig   `yaml:"vendor"`
	Accounts []AccountEntry `yaml:"accounts"`
	Tasks    []TaskEntry    `yaml:"tasks"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

// VendorConfig points at the vendor API gateway.
type VendorConfig struct {
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`
}

// AccountEntry is one tenant account with its vendor credentials.
type AccountEntry struct {
	ID         string `yaml:"id"`
	AppKey     string `yaml:"app_key"`
	AppSecret  string `yaml:"app_secret"`
	SessionKey string `yaml:"session_key"`
}

// ShardSource derives an account's shards from a vendor endpoint. Field
// names the item field carrying the shard identifier; items that are bare
// strings need no field.
type ShardSource struct {
	Endpoint string `yaml:"endpoint"`
	Field    string `yaml:"field"`
}

// TaskEntry declares one synchronized record type.
type TaskEntry struct {
	Type        string       `yaml:"type"`
	Endpoint    string       `yaml:"endpoint"`
	Weight      int          `yaml:"weight"`
	PageSize    int          `yaml:"page_size"`
	MaxPageSize int          `yaml:"max_page_size"`
	ShardSource *ShardSource `yaml:"shard_source"`
}

// ScheduleConfig tunes the sync cadence and pacing.
type ScheduleConfig struct {
	Interval     time.Duration `yaml:"interval"`
	LookbackDays int           `yaml:"lookback_days"`
	PageDelay    time.Duration `yaml:"page_delay"`
	ShardDelay   time.Duration `yaml:"shard_delay"`
	AccountDelay time.Duration `yaml:"account_delay"`
	MaxRetries   int           `yaml:"max_retries"`
	BaseDelay    time.Duration `yaml:"base_delay"`
}

// LoadConfig reads and validates the YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Vendor.BaseURL == "" {
		return nil, fmt.Errorf("vendor.base_url is required")
	}
	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("at least one account is required")
	}
	if len(cfg.Tasks) == 0 {
		return nil, fmt.Errorf("at least one task is required")
	}
	for i, task := range cfg.Tasks {
		if task.Type == "" {
			return nil, fmt.Errorf("tasks[%d]: type is required", i)
		}
		if task.Endpoint == "" {
			return nil, fmt.Errorf("task %s: endpoint is required", task.Type)
		}
		if task.ShardSource != nil && task.ShardSource.Endpoint == "" {
			return nil, fmt.Errorf("task %s: shard_source.endpoint is required", task.Type)
		}
	}

	// Defaults
	if cfg.Vendor.UserAgent == "" {
		cfg.Vendor.UserAgent = "vendor-sync/0.1.0"
	}
	if cfg.Schedule.Interval <= 0 {
		cfg.Schedule.Interval = 24 * time.Hour
	}
	if cfg.Schedule.LookbackDays <= 0 {
		cfg.Schedule.LookbackDays = 7
	}
	if cfg.Schedule.PageDelay <= 0 {
		cfg.Schedule.PageDelay = 200 * time.Millisecond
	}
	if cfg.Schedule.MaxRetries <= 0 {
		cfg.Schedule.MaxRetries = 3
	}
	if cfg.Schedule.BaseDelay <= 0 {
		cfg.Schedule.BaseDelay = time.Second
	}
	for i := range cfg.Tasks {
		if cfg.Tasks[i].Weight <= 0 {
			cfg.Tasks[i].Weight = 1
		}
		if cfg.Tasks[i].PageSize <= 0 {
			cfg.Tasks[i].PageSize = 100
		}
		if cfg.Tasks[i].MaxPageSize <= 0 {
			cfg.Tasks[i].MaxPageSize = 500
		}
	}

	return &cfg, nil
}
