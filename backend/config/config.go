package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smartshieldai-idps/flowguard/backend/internal/tracing"
	"github.com/smartshieldai-idps/flowguard/pkg/logging"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port string `yaml:"port"`
		TLS  struct {
			Enabled  bool   `yaml:"enabled"`
			CertPath string `yaml:"cert_path"`
			KeyPath  string `yaml:"key_path"`
		} `yaml:"tls"`
	} `yaml:"server"`

	Redis struct {
		PoolSize     int `yaml:"pool_size"`
		MinIdleConns int `yaml:"min_idle_conns"`
		MaxRetries   int `yaml:"max_retries"`
	} `yaml:"redis"`

	Elasticsearch struct {
		// Enabled turns on alert indexing. Setting ELASTICSEARCH_URL
		// enables it as well.
		Enabled bool `yaml:"enabled"`
	} `yaml:"elasticsearch"`

	Detection struct {
		ML struct {
			ModelDir  string `yaml:"model_dir"`
			CacheSize int    `yaml:"cache_size"`
			// WatchModelDir evicts cached models whose artifact changes on disk
			WatchModelDir bool `yaml:"watch_model_dir"`
		} `yaml:"ml"`
	} `yaml:"detection"`

	Security struct {
		RateLimit      float64       `yaml:"rate_limit"`
		RateLimitBurst int           `yaml:"rate_limit_burst"`
		MaxRequestSize int64         `yaml:"max_request_size"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"security"`

	GeoIP struct {
		DatabasePath string `yaml:"database_path"`
	} `yaml:"geoip"`

	Logging logging.Config `yaml:"logging"`
	Tracing tracing.Config `yaml:"tracing"`

	// Runtime configuration
	RedisURL           string
	ElasticsearchAddrs []string
	ElasticsearchUser  string
	ElasticsearchPass  string
	ElasticsearchIndex string
}

// Default returns the built-in configuration
func Default() *Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Redis.PoolSize = 10
	cfg.Redis.MaxRetries = 3
	cfg.Detection.ML.ModelDir = "models"
	cfg.Detection.ML.CacheSize = 16
	cfg.Detection.ML.WatchModelDir = true
	cfg.Security.RateLimit = 50
	cfg.Security.RateLimitBurst = 100
	cfg.Security.MaxRequestSize = 10 << 20
	cfg.Security.RequestTimeout = 60 * time.Second
	cfg.Logging = logging.DefaultConfig()
	cfg.Tracing.ServiceName = "flowguard-backend"
	cfg.Tracing.SampleRatio = 1
	return &cfg
}

// LoadConfig loads the configuration file named by CONFIG_PATH (default
// config/config.yaml) over the defaults, then applies environment
// overrides. A missing file is not an error.
func LoadConfig() (*Config, error) {
	configPath := getEnv("CONFIG_PATH", "config/config.yaml")

	cfg := Default()
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("error reading config file: %v", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %v", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	cfg.RedisURL = getEnv("REDIS_URL", "redis://localhost:6379")

	cfg.ElasticsearchAddrs = nil
	for _, addr := range strings.Split(getEnv("ELASTICSEARCH_URL", "http://localhost:9200"), ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			cfg.ElasticsearchAddrs = append(cfg.ElasticsearchAddrs, addr)
		}
	}
	if _, ok := os.LookupEnv("ELASTICSEARCH_URL"); ok {
		cfg.Elasticsearch.Enabled = true
	}
	cfg.ElasticsearchUser = os.Getenv("ELASTICSEARCH_USER")
	cfg.ElasticsearchPass = os.Getenv("ELASTICSEARCH_PASS")
	cfg.ElasticsearchIndex = getEnv("ELASTICSEARCH_INDEX", "flowguard-alerts")

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Detection.ML.ModelDir = getEnv("MODEL_DIR", cfg.Detection.ML.ModelDir)
	cfg.GeoIP.DatabasePath = getEnv("GEOIP_DB_PATH", cfg.GeoIP.DatabasePath)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.OTLPEndpoint = endpoint
	}
}

// Validate checks values the server cannot start without
func (cfg *Config) Validate() error {
	if cfg.Server.Port == "" {
		return errors.New("server port is required")
	}
	if cfg.Detection.ML.ModelDir == "" {
		return errors.New("detection.ml.model_dir is required")
	}
	if cfg.Server.TLS.Enabled && (cfg.Server.TLS.CertPath == "" || cfg.Server.TLS.KeyPath == "") {
		return errors.New("tls requires cert_path and key_path")
	}
	if cfg.Tracing.Enabled && cfg.Tracing.OTLPEndpoint == "" {
		return errors.New("tracing requires an otlp_endpoint")
	}
	return nil
}

// GetTLSConfig returns a TLS configuration for the server
func GetTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
