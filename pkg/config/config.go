package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Signal struct {
		URL            string        `yaml:"url"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`

		Reconnect struct {
			Enabled        bool          `yaml:"enabled"`
			MaxAttempts    int           `yaml:"max_attempts"`
			InitialDelay   time.Duration `yaml:"initial_delay"`
			MaxDelay       time.Duration `yaml:"max_delay"`
			RatePerMinute  float64       `yaml:"rate_per_minute"`
			Burst          int           `yaml:"burst"`
		} `yaml:"reconnect"`
	} `yaml:"signal"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Media struct {
		Audio bool `yaml:"audio"`
		Video bool `yaml:"video"`

		VideoMaxBitrate uint32 `yaml:"video_max_bitrate"`
	} `yaml:"media"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		PrometheusPort    int           `yaml:"prometheus_port"`
		StatsInterval     time.Duration `yaml:"stats_interval"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Signal
	if c.Signal.URL == "" {
		return fmt.Errorf("signal.url must not be empty")
	}
	if c.Signal.RequestTimeout <= 0 {
		return fmt.Errorf("signal.request_timeout must be > 0")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= 0 {
		return fmt.Errorf("signal.pong_timeout must be > 0")
	}
	if c.Signal.Reconnect.Enabled {
		if c.Signal.Reconnect.MaxAttempts < 0 {
			return fmt.Errorf("signal.reconnect.max_attempts must be >= 0")
		}
		if c.Signal.Reconnect.InitialDelay <= 0 {
			return fmt.Errorf("signal.reconnect.initial_delay must be > 0")
		}
		if c.Signal.Reconnect.MaxDelay < c.Signal.Reconnect.InitialDelay {
			return fmt.Errorf("signal.reconnect.max_delay must be >= initial_delay")
		}
		if c.Signal.Reconnect.RatePerMinute <= 0 {
			return fmt.Errorf("signal.reconnect.rate_per_minute must be > 0")
		}
		if c.Signal.Reconnect.Burst <= 0 {
			return fmt.Errorf("signal.reconnect.burst must be > 0")
		}
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}
	if c.Monitoring.StatsInterval <= 0 {
		return fmt.Errorf("monitoring.stats_interval must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Signal.URL = "ws://localhost:8081/ws"
	cfg.Signal.RequestTimeout = 15 * time.Second
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.Reconnect.Enabled = true
	cfg.Signal.Reconnect.MaxAttempts = 5
	cfg.Signal.Reconnect.InitialDelay = 500 * time.Millisecond
	cfg.Signal.Reconnect.MaxDelay = 15 * time.Second
	cfg.Signal.Reconnect.RatePerMinute = 30
	cfg.Signal.Reconnect.Burst = 5

	cfg.Media.Audio = true
	cfg.Media.Video = true
	cfg.Media.VideoMaxBitrate = 1_500_000

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090
	cfg.Monitoring.StatsInterval = 10 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("RTCCLIENT_SIGNAL_URL"); url != "" {
		c.Signal.URL = url
	}
	if level := os.Getenv("RTCCLIENT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if port := os.Getenv("RTCCLIENT_PROMETHEUS_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Monitoring.PrometheusPort)
	}
}
