package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/smartshieldai-idps/flowguard/pkg/logging"
)

// Config represents the agent configuration
type Config struct {
	AgentID    string           `yaml:"agent_id"`
	Backend    BackendConfig    `yaml:"backend"`
	TLS        TLSConfig        `yaml:"tls"`
	Security   SecurityConfig   `yaml:"security"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Network    NetworkConfig    `yaml:"network"`
	Logging    logging.Config   `yaml:"logging"`
}

// BackendConfig represents backend connection settings
type BackendConfig struct {
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	BatchSize    int           `yaml:"batch_size"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// TLSConfig represents TLS settings
type TLSConfig struct {
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// SecurityConfig paces requests to the backend
type SecurityConfig struct {
	RateLimit      float64 `yaml:"rate_limit"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// NetworkConfig holds network capture configuration
type NetworkConfig struct {
	Interface     string        `yaml:"interface"`
	CaptureFilter string        `yaml:"capture_filter"`
	MaxPacketSize int32         `yaml:"max_packet_size"`
	Promiscuous   bool          `yaml:"promiscuous"`
	QueueSize     int           `yaml:"queue_size"`
	ExcludeIPs    []string      `yaml:"exclude_ips"`
	ExcludePorts  []uint16      `yaml:"exclude_ports"`
	FlowTimeout   time.Duration `yaml:"flow_timeout"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	defaultInterface := "eth0"
	switch runtime.GOOS {
	case "darwin":
		defaultInterface = "en0"
	case "windows":
		defaultInterface = "Ethernet"
	}

	return &Config{
		Backend: BackendConfig{
			URL:          "http://localhost:8080",
			Timeout:      10 * time.Second,
			BatchSize:    500,
			MaxRetries:   3,
			RetryBackoff: time.Second,
		},
		Security: SecurityConfig{
			RateLimit:      10,
			RateLimitBurst: 20,
		},
		Monitoring: MonitoringConfig{
			StatsInterval: 30 * time.Second,
		},
		Network: NetworkConfig{
			Interface:     defaultInterface,
			CaptureFilter: "ip or ip6",
			MaxPacketSize: 1600,
			Promiscuous:   true,
			QueueSize:     10000,
			ExcludeIPs:    []string{"127.0.0.1", "::1"},
			FlowTimeout:   30 * time.Second,
			FlushInterval: 60 * time.Second,
		},
		Logging: logging.DefaultConfig(),
	}
}

// LoadConfig loads configuration from path, which may be missing, then
// applies environment overrides
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("error reading config file: %v", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %v", err)
		}
	}

	config.applyEnv()
	if config.AgentID == "" {
		config.AgentID = "agent-" + uuid.NewString()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AGENT_ID"); v != "" {
		c.AgentID = v
	}
	if v := os.Getenv("BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("CAPTURE_INTERFACE"); v != "" {
		c.Network.Interface = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	c.Backend.URL = strings.TrimRight(c.Backend.URL, "/")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.url %q is not an absolute URL", c.Backend.URL)
	}
	if c.Network.Interface == "" {
		return fmt.Errorf("network.interface is required")
	}
	if c.Network.FlowTimeout <= 0 || c.Network.FlushInterval <= 0 {
		return fmt.Errorf("network.flow_timeout and network.flush_interval must be positive")
	}
	if c.Monitoring.StatsInterval <= 0 {
		return fmt.Errorf("monitoring.stats_interval must be positive")
	}
	if c.Backend.BatchSize <= 0 || c.Backend.BatchSize > 5000 {
		return fmt.Errorf("backend.batch_size must be between 1 and 5000")
	}
	if c.Security.RateLimit < 0 {
		return fmt.Errorf("security.rate_limit must not be negative")
	}
	return nil
}
