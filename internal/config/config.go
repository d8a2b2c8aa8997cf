package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the API server and the worker.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Auth        AuthConfig        `yaml:"auth"`
	Mandrill    MandrillConfig    `yaml:"mandrill"`
	MessageBird MessageBirdConfig `yaml:"messagebird"`
	SES         SESConfig         `yaml:"ses"`
	PDF         PDFConfig         `yaml:"pdf"`
	Send        SendConfig        `yaml:"send"`
	Worker      WorkerConfig      `yaml:"worker"`
	LogLevel    string            `yaml:"log_level"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port              int    `yaml:"port"`
	Host              string `yaml:"host"`
	HostName          string `yaml:"host_name"`       // public host name, used in webhook URLs
	ClickHostName     string `yaml:"click_host_name"` // public base for shortened links
	VerboseHTTPErrors bool   `yaml:"verbose_http_errors"`
}

// GetHost returns the listen host, with container detection.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// PostgresConfig holds relational store configuration.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds key-value store and job queue configuration.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig holds the three auth secrets: the ingest shared secret, the
// user-token HMAC key and the Mandrill webhook signing key.
type AuthConfig struct {
	AuthKey        string `yaml:"auth_key"`
	UserAuthKey    string `yaml:"user_auth_key"`
	WebhookAuthKey string `yaml:"webhook_auth_key"`
}

// MandrillConfig holds Mandrill API configuration.
type MandrillConfig struct {
	Key            string `yaml:"key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c MandrillConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MessageBirdConfig holds MessageBird API configuration.
type MessageBirdConfig struct {
	Key            string `yaml:"key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c MessageBirdConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES configuration for the email-ses method.
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Enabled   bool   `yaml:"enabled"`
}

// PDFConfig holds the PDF rendering service configuration.
type PDFConfig struct {
	ServiceURL     string `yaml:"service_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c PDFConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SendConfig holds send-pipeline settings shared by email and SMS.
type SendConfig struct {
	USSendNumber           string `yaml:"us_send_number"`
	CASendNumber           string `yaml:"ca_send_number"`
	TCRegisteredOriginator string `yaml:"tc_registered_originator"`
	TestOutput             string `yaml:"test_output"` // dir for *-test method message dumps, empty disables
}

// WorkerConfig holds job-queue worker and cron settings.
type WorkerConfig struct {
	Concurrency           int  `yaml:"concurrency"`
	JobTimeoutSeconds     int  `yaml:"job_timeout_seconds"`
	UpdateAggregationView bool `yaml:"update_aggregation_view"`
	DeleteOldMessages     bool `yaml:"delete_old_messages"`
	RetentionDays         int  `yaml:"retention_days"`
	AggregationDays       int  `yaml:"aggregation_days"`
}

// JobTimeout returns the per-job wall-clock cap as a duration.
func (c WorkerConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.HostName == "" {
		cfg.Server.HostName = "https://morpheus.example.com"
	}
	if cfg.Server.ClickHostName == "" {
		cfg.Server.ClickHostName = "https://click.example.com"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 50
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Mandrill.BaseURL == "" {
		cfg.Mandrill.BaseURL = "https://mandrillapp.com/api/1.0"
	}
	if cfg.Mandrill.TimeoutSeconds == 0 {
		cfg.Mandrill.TimeoutSeconds = 30
	}
	if cfg.MessageBird.BaseURL == "" {
		cfg.MessageBird.BaseURL = "https://rest.messagebird.com"
	}
	if cfg.MessageBird.TimeoutSeconds == 0 {
		cfg.MessageBird.TimeoutSeconds = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.PDF.TimeoutSeconds == 0 {
		cfg.PDF.TimeoutSeconds = 30
	}
	if cfg.Send.TCRegisteredOriginator == "" {
		cfg.Send.TCRegisteredOriginator = "Morpheus"
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 20
	}
	if cfg.Worker.JobTimeoutSeconds == 0 {
		cfg.Worker.JobTimeoutSeconds = 60
	}
	if cfg.Worker.RetentionDays == 0 {
		cfg.Worker.RetentionDays = 365
	}
	if cfg.Worker.AggregationDays == 0 {
		cfg.Worker.AggregationDays = 90
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first, so secrets can live in .env
// locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PG_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("AUTH_KEY"); v != "" {
		cfg.Auth.AuthKey = v
	}
	if v := os.Getenv("USER_AUTH_KEY"); v != "" {
		cfg.Auth.UserAuthKey = v
	}
	if v := os.Getenv("WEBHOOK_AUTH_KEY"); v != "" {
		cfg.Auth.WebhookAuthKey = v
	}
	if v := os.Getenv("MANDRILL_KEY"); v != "" {
		cfg.Mandrill.Key = v
	}
	if v := os.Getenv("MANDRILL_URL"); v != "" {
		cfg.Mandrill.BaseURL = v
	}
	if v := os.Getenv("MESSAGEBIRD_KEY"); v != "" {
		cfg.MessageBird.Key = v
	}
	if v := os.Getenv("MESSAGEBIRD_URL"); v != "" {
		cfg.MessageBird.BaseURL = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("PDF_SERVICE_URL"); v != "" {
		cfg.PDF.ServiceURL = v
	}
	if v := os.Getenv("CLICK_HOST_NAME"); v != "" {
		cfg.Server.ClickHostName = v
	}
	if v := os.Getenv("HOST_NAME"); v != "" {
		cfg.Server.HostName = v
	}
	if v := os.Getenv("TEST_OUTPUT"); v != "" {
		cfg.Send.TestOutput = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}
