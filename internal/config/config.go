package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	ADMS     ADMSConfig     `yaml:"adms"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	// APIKeyHashes are bcrypt hashes of additional reporting API keys.
	APIKeyHashes []string `yaml:"api_key_hashes"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type NATSConfig struct {
	// URL is optional; without it realtime events are disabled.
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	// PublicURL is the externally reachable base for stored objects,
	// e.g. https://cdn.example.com/attendance-photos.
	PublicURL string `yaml:"public_url"`
}

// ADMSConfig holds terminal-facing protocol settings.
type ADMSConfig struct {
	// TimeZone is the IANA zone terminals report punch times in.
	TimeZone string `yaml:"timezone"`

	// Handshake options returned on GET /iclock/cdata.
	ErrorDelay    int    `yaml:"error_delay"`
	Delay         int    `yaml:"delay"`
	TransTimes    string `yaml:"trans_times"`
	TransInterval int    `yaml:"trans_interval"`
	TransFlag     string `yaml:"trans_flag"`
	TimeZoneHours int    `yaml:"timezone_hours"`
	Realtime      bool   `yaml:"realtime"`
}

// Location resolves TimeZone, falling back to UTC for unknown zones.
func (a ADMSConfig) Location() *time.Location {
	loc, err := time.LoadLocation(a.TimeZone)
	if err != nil {
		slog.Warn("unknown adms timezone, using UTC", "timezone", a.TimeZone, "error", err)
		return time.UTC
	}
	return loc
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// A .env file in the working directory, if present, is loaded first so its
// values take part in the overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("load .env", "error", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "attendance-photos"
	}
	if cfg.ADMS.TimeZone == "" {
		cfg.ADMS.TimeZone = "UTC"
	}
	if cfg.ADMS.ErrorDelay == 0 {
		cfg.ADMS.ErrorDelay = 30
	}
	if cfg.ADMS.Delay == 0 {
		cfg.ADMS.Delay = 10
	}
	if cfg.ADMS.TransTimes == "" {
		cfg.ADMS.TransTimes = "00:00;14:05"
	}
	if cfg.ADMS.TransInterval == 0 {
		cfg.ADMS.TransInterval = 1
	}
	if cfg.ADMS.TransFlag == "" {
		cfg.ADMS.TransFlag = "1111000000"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ADMS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ADMS_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("ADMS_API_KEY_HASHES"); v != "" {
		cfg.Server.APIKeyHashes = splitList(v)
	}
	if v := os.Getenv("ADMS_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ADMS_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("ADMS_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("ADMS_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("ADMS_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ADMS_DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("ADMS_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("ADMS_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("ADMS_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("ADMS_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("ADMS_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("ADMS_MINIO_PUBLIC_URL"); v != "" {
		cfg.MinIO.PublicURL = v
	}
	if v := os.Getenv("ADMS_TIMEZONE"); v != "" {
		cfg.ADMS.TimeZone = v
	}
	if v := os.Getenv("ADMS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
