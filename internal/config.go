package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Gateways      GatewaysConfig      `mapstructure:"gateways"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// QueuePrefix namespaces the delayed retry queue keys.
	QueuePrefix string `mapstructure:"queue_prefix"`
}

// GatewayConfig holds one provider's credentials and fee schedule. A gateway
// with empty credentials is treated as inactive, not as a startup error.
type GatewayConfig struct {
	MerchantID  string        `mapstructure:"merchant_id"`
	SecretKey   string        `mapstructure:"secret_key"`
	APIBaseURL  string        `mapstructure:"api_base_url"`
	TestMode    bool          `mapstructure:"test_mode"`
	FixedFee    int64         `mapstructure:"fixed_fee"`
	PercentRate float64       `mapstructure:"percent_rate"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type GatewaysConfig struct {
	Inicis   GatewayConfig `mapstructure:"inicis"`
	Toss     GatewayConfig `mapstructure:"toss"`
	KakaoPay GatewayConfig `mapstructure:"kakaopay"`
	// ReturnURL and CancelURL are shared checkout redirect targets.
	ReturnURL string `mapstructure:"return_url"`
	CancelURL string `mapstructure:"cancel_url"`
}

type RetryConfig struct {
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	WorkerCount       int           `mapstructure:"worker_count"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ----------------- DEFAULTS -----------------

// ApplyDefaults fills retry knobs and operational settings a bare config
// file may omit.
func (c *Config) ApplyDefaults() {
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = 60 * time.Second
	}
	if c.Retry.BackoffMultiplier <= 0 {
		c.Retry.BackoffMultiplier = 2
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.Cooldown <= 0 {
		c.Retry.Cooldown = 30 * time.Minute
	}
	if c.Retry.SweepInterval <= 0 {
		c.Retry.SweepInterval = 5 * time.Minute
	}
	if c.Retry.WorkerCount <= 0 {
		c.Retry.WorkerCount = 5
	}
	if c.Redis.QueuePrefix == "" {
		c.Redis.QueuePrefix = "payment"
	}
	if c.Observability.Metrics.Path == "" {
		c.Observability.Metrics.Path = "/metrics"
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

// LoadConfigFromEnv builds configuration from environment variables for
// container deployments; the YAML path stays the development default.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:           getEnv("SERVER_BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("SERVER_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
		Database: DatabaseConfig{
			Source:          getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvAsInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", "localhost:6379"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvAsInt("REDIS_DB", 0),
			QueuePrefix: getEnv("REDIS_QUEUE_PREFIX", "payment"),
		},
		Gateways: GatewaysConfig{
			Inicis: GatewayConfig{
				MerchantID: getEnv("INICIS_MID", ""),
				SecretKey:  getEnv("INICIS_SIGN_KEY", ""),
				APIBaseURL: getEnv("INICIS_API_URL", "https://iniapi.inicis.com"),
				TestMode:   getEnvAsBool("INICIS_TEST_MODE", false),
			},
			Toss: GatewayConfig{
				MerchantID: getEnv("TOSS_MID", ""),
				SecretKey:  getEnv("TOSS_SECRET_KEY", ""),
				APIBaseURL: getEnv("TOSS_API_URL", "https://api.tosspayments.com"),
				TestMode:   getEnvAsBool("TOSS_TEST_MODE", false),
			},
			KakaoPay: GatewayConfig{
				MerchantID: getEnv("KAKAOPAY_CID", ""),
				SecretKey:  getEnv("KAKAOPAY_ADMIN_KEY", ""),
				APIBaseURL: getEnv("KAKAOPAY_API_URL", "https://kapi.kakao.com"),
				TestMode:   getEnvAsBool("KAKAOPAY_TEST_MODE", false),
			},
			ReturnURL: getEnv("PAYMENT_RETURN_URL", ""),
			CancelURL: getEnv("PAYMENT_CANCEL_URL", ""),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnvAsBool("METRICS_ENABLED", true),
				Path:    getEnv("METRICS_PATH", "/metrics"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}
	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("retry config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *RetryConfig) Validate() error {
	if c.BackoffMultiplier < 1 {
		return errors.New("backoff_multiplier must be at least 1")
	}
	if c.MaxAttempts < 1 {
		return errors.New("max_attempts must be at least 1")
	}
	return nil
}
