package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "labelflow.yml"

// Config models labelflow.yml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

type ServerConfig struct {
	Addr                string `yaml:"addr"`
	BasePath            string `yaml:"base_path"`
	JWTSecret           string `yaml:"jwt_secret"`
	AllowHeaderIdentity bool   `yaml:"allow_header_identity"`
	MaxUploadMB         int64  `yaml:"max_upload_mb"`
}

type LifecycleConfig struct {
	// ResponsePolicy is reject or latest_wins.
	ResponsePolicy string `yaml:"response_policy"`
}

type TimeoutConfig struct {
	Persistence time.Duration `yaml:"persistence"`
	Storage     time.Duration `yaml:"storage"`
	Publish     time.Duration `yaml:"publish"`
	SocialCheck time.Duration `yaml:"social_check"`
}

type StorageConfig struct {
	Driver            string      `yaml:"driver"`
	LocalDir          string      `yaml:"local_dir"`
	MaxImageDimension int         `yaml:"max_image_dimension"`
	MinIO             MinIOConfig `yaml:"minio"`
}

type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	BasePath        string `yaml:"base_path"`
	MaxRetries      int    `yaml:"max_retries"`
}

type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	UsernameTTL time.Duration `yaml:"username_ttl"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Stream        string `yaml:"stream"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

type TracingConfig struct {
	Exporter    string `yaml:"exporter"`
	ServiceName string `yaml:"service_name"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace, falling back to defaults
// when no file exists.
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default(), nil
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("config.server.max_upload_mb must be positive")
	}
	switch c.Lifecycle.ResponsePolicy {
	case "reject", "latest_wins":
	default:
		return fmt.Errorf("config.lifecycle.response_policy must be reject or latest_wins")
	}
	if c.Timeouts.Persistence <= 0 || c.Timeouts.Storage <= 0 || c.Timeouts.Publish <= 0 || c.Timeouts.SocialCheck <= 0 {
		return fmt.Errorf("config.timeouts values must be positive durations")
	}
	switch c.Storage.Driver {
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("config.storage.local_dir is required for the local driver")
		}
	case "minio":
		if c.Storage.MinIO.Endpoint == "" || c.Storage.MinIO.Bucket == "" {
			return fmt.Errorf("config.storage.minio.endpoint and bucket are required for the minio driver")
		}
	default:
		return fmt.Errorf("config.storage.driver must be local or minio")
	}
	if c.Storage.MaxImageDimension < 0 {
		return fmt.Errorf("config.storage.max_image_dimension cannot be negative")
	}
	if c.Redis.Addr != "" && c.Redis.UsernameTTL <= 0 {
		return fmt.Errorf("config.redis.username_ttl must be positive when redis is enabled")
	}
	if c.NATS.URL != "" && c.NATS.SubjectPrefix == "" {
		return fmt.Errorf("config.nats.subject_prefix is required when nats is enabled")
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("config.tracing.exporter must be none or stdout")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) URL", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds cannot be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret: ""
  allow_header_identity: false
  max_upload_mb: 10

lifecycle:
  response_policy: reject

timeouts:
  persistence: 5s
  storage: 15s
  publish: 3s
  social_check: 5s

storage:
  driver: local
  local_dir: .labelflow/blobs
  max_image_dimension: 1600
  minio:
    endpoint: ""
    access_key_id: ""
    secret_access_key: ""
    use_ssl: false
    bucket: labelflow
    base_path: tasks
    max_retries: 5

redis:
  addr: ""
  password: ""
  db: 0
  username_ttl: 10m

nats:
  url: ""
  subject_prefix: labelflow.events
  stream: ""
  max_reconnects: 10

tracing:
  exporter: none
  service_name: labelflow

webhooks: []
`
