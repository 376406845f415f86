// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses human-readable values like "1m" or "30s" from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	RabbitMQ struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"rabbitmq"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Scheduler struct {
		Interval    Duration `yaml:"interval"`
		Parallelism int      `yaml:"parallelism"`
	} `yaml:"scheduler"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Client struct {
		QueueID         string   `yaml:"queue_id"`
		DBPath          string   `yaml:"db_path"`
		LocationTimeout Duration `yaml:"location_timeout"`
		Location        *struct {
			Lat float64 `yaml:"lat"`
			Lng float64 `yaml:"lng"`
		} `yaml:"location"`
	} `yaml:"client"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "notifications"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = Duration(time.Minute)
	}
	if c.Scheduler.Parallelism <= 0 {
		c.Scheduler.Parallelism = 4
	}
	if c.Client.LocationTimeout <= 0 {
		c.Client.LocationTimeout = Duration(3 * time.Second)
	}
	if c.Client.DBPath == "" {
		c.Client.DBPath = "messages.db"
	}
}
