package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/mailtrack/internal/geoip"
	"github.com/ignite/mailtrack/internal/notify"
	"github.com/ignite/mailtrack/internal/service/opens"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Tracking TrackingConfig `yaml:"tracking"`
	Followup FollowupConfig `yaml:"followup"`
	GeoIP    GeoIPConfig    `yaml:"geoip"`
	Notify   NotifyConfig   `yaml:"notify"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// BaseURL is the public prefix of pixel URLs, e.g. https://t.example.com
	BaseURL string `yaml:"base_url"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr is host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds the PostgreSQL connection settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// TrackingConfig holds open recording and trigger thresholds
type TrackingConfig struct {
	MinOpenDelaySeconds   int    `yaml:"min_open_delay_seconds"`
	HotOpenThreshold      int    `yaml:"hot_open_threshold"`
	HotWindowHours        int    `yaml:"hot_window_hours"`
	RevivedAfterDays      int    `yaml:"revived_after_days"`
	Ingest                string `yaml:"ingest"` // "inline" or "sqs"
	SQSQueueURL           string `yaml:"sqs_queue_url"`
	SQSRegion             string `yaml:"sqs_region"`
	ProcessTimeoutSeconds int    `yaml:"process_timeout_seconds"`
}

// ProcessTimeout bounds the handling of a single fetch event.
func (c TrackingConfig) ProcessTimeout() time.Duration {
	return time.Duration(c.ProcessTimeoutSeconds) * time.Second
}

// UsesSQS reports whether fetches are queued rather than processed inline.
func (c TrackingConfig) UsesSQS() bool { return strings.EqualFold(c.Ingest, "sqs") }

// FollowupConfig holds the follow-up sweeper settings
type FollowupConfig struct {
	Enabled         bool `yaml:"enabled"`
	Days            int  `yaml:"days"`
	IntervalMinutes int  `yaml:"interval_minutes"`
	// RunInServer runs the sweeper inside cmd/server as well as cmd/worker.
	RunInServer bool `yaml:"run_in_server"`
}

// Interval returns the sweep interval.
func (c FollowupConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// GeoIPConfig holds the location of the GeoLite2-City database
type GeoIPConfig struct {
	DBPath            string `yaml:"db_path"`
	MaxMindLicenseKey string `yaml:"maxmind_license_key"`
	S3Bucket          string `yaml:"s3_bucket"`
	S3Key             string `yaml:"s3_key"`
	Region            string `yaml:"region"`
	AWSProfile        string `yaml:"aws_profile"`
}

// NotifyConfig holds notification delivery settings
type NotifyConfig struct {
	Transport string            `yaml:"transport"` // "ses", "smtp" or "none"
	To        string            `yaml:"to"`
	From      string            `yaml:"from"`
	Timezone  string            `yaml:"timezone"`
	SMTP      notify.SMTPConfig `yaml:"smtp"`
	SES       notify.SESConfig  `yaml:"ses"`
}

// APIConfig holds management API settings
type APIConfig struct {
	Key            string   `yaml:"key"`
	RateLimit      string   `yaml:"rate_limit"` // ulule/limiter format, e.g. "300-M"
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// RedactsPII defaults to true when unset.
func (c LoggingConfig) RedactsPII() bool { return c.RedactPII == nil || *c.RedactPII }

// Opens converts the tracking and follow-up sections into the recorder config.
func (c *Config) Opens() opens.Config {
	return opens.Config{
		MinOpenDelay:     time.Duration(c.Tracking.MinOpenDelaySeconds) * time.Second,
		HotThreshold:     c.Tracking.HotOpenThreshold,
		HotWindow:        time.Duration(c.Tracking.HotWindowHours) * time.Hour,
		RevivedAfterDays: c.Tracking.RevivedAfterDays,
		FollowupDays:     c.Followup.Days,
	}
}

// NotifyConfig converts the notify section into the notifier config.
func (c *Config) NotifyConfig() notify.Config {
	return notify.Config{
		Transport: c.Notify.Transport,
		To:        c.Notify.To,
		From:      c.Notify.From,
		Timezone:  c.Notify.Timezone,
		SMTP:      c.Notify.SMTP,
		SES:       c.Notify.SES,
	}
}

// GeoIPSource converts the geoip section into a provisioning source.
func (c *Config) GeoIPSource() geoip.Source {
	return geoip.Source{
		Path:       c.GeoIP.DBPath,
		S3Bucket:   c.GeoIP.S3Bucket,
		S3Key:      c.GeoIP.S3Key,
		LicenseKey: c.GeoIP.MaxMindLicenseKey,
	}
}

// Validate rejects settings the binaries cannot start with.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (or set DATABASE_URL)")
	}
	if c.Tracking.UsesSQS() && c.Tracking.SQSQueueURL == "" {
		return fmt.Errorf("tracking.sqs_queue_url is required when tracking.ingest is sqs")
	}
	switch strings.ToLower(c.Tracking.Ingest) {
	case "inline", "sqs":
	default:
		return fmt.Errorf("tracking.ingest must be inline or sqs, got %q", c.Tracking.Ingest)
	}
	return nil
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	cfg.Notify.resolveTransport()
	return cfg, nil
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	cfg := Config{
		Followup: FollowupConfig{Enabled: true, RunInServer: true},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Tracking.MinOpenDelaySeconds == 0 {
		cfg.Tracking.MinOpenDelaySeconds = 5
	}
	if cfg.Tracking.HotOpenThreshold == 0 {
		cfg.Tracking.HotOpenThreshold = opens.DefaultHotThreshold
	}
	if cfg.Tracking.HotWindowHours == 0 {
		cfg.Tracking.HotWindowHours = 24
	}
	if cfg.Tracking.RevivedAfterDays == 0 {
		cfg.Tracking.RevivedAfterDays = opens.DefaultRevivedAfterDays
	}
	if cfg.Tracking.Ingest == "" {
		cfg.Tracking.Ingest = "inline"
	}
	if cfg.Tracking.ProcessTimeoutSeconds == 0 {
		cfg.Tracking.ProcessTimeoutSeconds = 10
	}
	if cfg.Followup.Days == 0 {
		cfg.Followup.Days = opens.DefaultFollowupDays
	}
	if cfg.Followup.IntervalMinutes == 0 {
		cfg.Followup.IntervalMinutes = 60
	}
	if cfg.GeoIP.DBPath == "" {
		cfg.GeoIP.DBPath = "data/GeoLite2-City.mmdb"
	}
	if cfg.Notify.Timezone == "" {
		cfg.Notify.Timezone = "UTC"
	}
	if cfg.Notify.SMTP.Port == 0 {
		cfg.Notify.SMTP.Port = 587
	}
	if cfg.Notify.SES.Region == "" {
		cfg.Notify.SES.Region = "us-west-2"
	}
	if cfg.API.RateLimit == "" {
		cfg.API.RateLimit = "300-M"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// resolveTransport picks a transport when none is set: smtp when relay
// credentials are present, ses when SES keys are, otherwise none. An smtp
// transport without a host uses Gmail's submission relay.
func (n *NotifyConfig) resolveTransport() {
	if n.Transport == "" {
		switch {
		case n.SMTP.Username != "" && n.SMTP.Password != "":
			n.Transport = "smtp"
		case n.SES.AccessKey != "" && n.SES.SecretKey != "":
			n.Transport = "ses"
		default:
			n.Transport = "none"
		}
	}
	if strings.EqualFold(n.Transport, "smtp") && n.SMTP.Host == "" {
		n.SMTP.Host = "smtp.gmail.com"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS. A missing
// config file is not an error; defaults plus env are enough to run.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := readFile(path)
	if os.IsNotExist(err) {
		cfg, err = parse(nil)
	}
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FOLLOWUP_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.Followup.Days = days
		}
	}
	if v := os.Getenv("SQS_QUEUE_URL"); v != "" {
		cfg.Tracking.SQSQueueURL = v
	}
	if v := os.Getenv("MAXMIND_LICENSE_KEY"); v != "" {
		cfg.GeoIP.MaxMindLicenseKey = v
	}
	if v := os.Getenv("NOTIFICATION_EMAIL"); v != "" {
		cfg.Notify.To = v
	}
	if v := os.Getenv("NOTIFY_TRANSPORT"); v != "" {
		cfg.Notify.Transport = v
	}
	if v := os.Getenv("NOTIFICATION_FROM"); v != "" {
		cfg.Notify.From = v
	}
	if v := os.Getenv("SMTP_SERVER"); v != "" {
		cfg.Notify.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Notify.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Notify.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.Notify.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Notify.SMTP.Password = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Notify.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Notify.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Notify.SES.Region = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.API.Key = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	cfg.Notify.resolveTransport()
	return cfg, nil
}
