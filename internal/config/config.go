package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"sessiond/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Engine     EngineConfig     `yaml:"engine"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Worker     WorkerConfig     `yaml:"worker"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// EngineConfig carries the protocol parameters. Attester and Treasury are
// boot-time only; Settings seeds the administrator-mutable subset on first
// start (after that the persisted settings win).
type EngineConfig struct {
	Attester string                `yaml:"attester"`
	Treasury string                `yaml:"treasury"`
	Admins   []string              `yaml:"admins"`
	Settings models.EngineSettings `yaml:"settings"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled        bool               `yaml:"enabled"`
	Port           int                `yaml:"port"`
	Auth           APIAuthConfig      `yaml:"auth"`
	RateLimit      APIRateLimitConfig `yaml:"rate_limit"`
	PrincipalsFile string             `yaml:"principals_file"`
	IdempotencyTTL time.Duration      `yaml:"idempotency_ttl"`
}

type APIAuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	HeaderAPIKey string `yaml:"header_api_key"`
}

type APIRateLimitConfig struct {
	RPS            float64 `yaml:"rps"`
	Burst          int     `yaml:"burst"`
	AccountLimit   int     `yaml:"account_limit"`
	AccountWindow  int     `yaml:"account_window"`
	AccountEnabled bool    `yaml:"account_enabled"`
}

type WorkerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	ExportInterval    time.Duration `yaml:"export_interval"`
	AutoSweep         bool          `yaml:"auto_sweep"`
	MinSweepSurplus   int64         `yaml:"min_sweep_surplus"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env подхватывается, если существует
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Engine.Attester == "" {
		return errors.New("engine attester account is required")
	}
	if c.Engine.Treasury == "" {
		return errors.New("engine treasury account is required")
	}
	if c.Engine.Attester == c.Engine.Treasury {
		return errors.New("attester and treasury accounts must differ")
	}
	if err := c.Engine.Settings.Validate(); err != nil {
		return fmt.Errorf("engine settings: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled && c.API.Enabled {
		c.API.Auth.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.IdempotencyTTL == 0 {
		c.API.IdempotencyTTL = 24 * time.Hour
	}
	if c.API.RateLimit.AccountLimit == 0 {
		c.API.RateLimit.AccountLimit = 30
	}
	if c.API.RateLimit.AccountWindow == 0 {
		c.API.RateLimit.AccountWindow = 60
	}

	if c.Worker.ReconcileInterval == 0 {
		c.Worker.ReconcileInterval = time.Minute
	}
	if c.Worker.ExportInterval == 0 {
		c.Worker.ExportInterval = 24 * time.Hour
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}

	s := &c.Engine.Settings
	if s.ChallengeWindowSecs == 0 {
		s.ChallengeWindowSecs = 24 * 60 * 60
	}
	if s.DisputeTimeoutSecs == 0 {
		s.DisputeTimeoutSecs = 72 * 60 * 60
	}
	if s.NoAttestBufferSecs == 0 {
		s.NoAttestBufferSecs = 6 * 60 * 60
	}
	if s.ChallengeBond == 0 {
		s.ChallengeBond = 1
	}
}
