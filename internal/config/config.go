package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

const insecureDefaultSecret = "change-me-jx3-market-secret"

// Config holds all configuration for the service.
type Config struct {
	ServiceName string `mapstructure:"SERVICE_NAME"`
	AppEnv      string `mapstructure:"APP_ENV"`

	HTTPPort              string        `mapstructure:"HTTP_PORT"`
	GRPCPort              string        `mapstructure:"GRPC_PORT"`
	PrometheusMetricsPort string        `mapstructure:"PROMETHEUS_METRICS_PORT"`
	ShutdownTimeout       time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`
	MongoUser     string `mapstructure:"MONGO_USER"`
	MongoPassword string `mapstructure:"MONGO_PASSWORD"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	NATSURL string `mapstructure:"NATS_URL"`

	MinioEndpoint  string `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket    string `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL    bool   `mapstructure:"MINIO_USE_SSL"`

	SMTPHost       string `mapstructure:"SMTP_HOST"`
	SMTPPort       int    `mapstructure:"SMTP_PORT"`
	SMTPUsername   string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword   string `mapstructure:"SMTP_PASSWORD"`
	SMTPSender     string `mapstructure:"SMTP_SENDER"`
	SMTPEncryption string `mapstructure:"SMTP_ENCRYPTION"`

	JWTSecret  string        `mapstructure:"JWT_SECRET"`
	JWTTTL     time.Duration `mapstructure:"JWT_TTL"`
	BcryptCost int           `mapstructure:"BCRYPT_COST"`

	VerificationCodeTTL time.Duration `mapstructure:"VERIFICATION_CODE_TTL"`
	ListingCacheTTL     time.Duration `mapstructure:"LISTING_CACHE_TTL"`

	RateLimitRPS   int `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int `mapstructure:"RATE_LIMIT_BURST"`

	ReconcileSchedule string `mapstructure:"RECONCILE_SCHEDULE"`

	OTelExporterOTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel                 string `mapstructure:"LOG_LEVEL"`
	LogFormat                string `mapstructure:"LOG_FORMAT"`
	LogOutputFile            string `mapstructure:"LOG_OUTPUT_FILE"`

	// Read by cmd/createadmin only.
	AdminEmail    string `mapstructure:"ADMIN_EMAIL"`
	AdminPassword string `mapstructure:"ADMIN_PASSWORD"`
	AdminName     string `mapstructure:"ADMIN_NAME"`
}

// LoggerOptions maps the LOG_* keys onto the logger.
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		OutputFile: c.LogOutputFile,
	}
}

// IsDevelopment reports whether error details may be exposed to clients.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "jx3-market")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("GRPC_PORT", "50060")
	v.SetDefault("PROMETHEUS_METRICS_PORT", "")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")

	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "jx3_market")
	v.SetDefault("MONGO_USER", "")
	v.SetDefault("MONGO_PASSWORD", "")

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("NATS_URL", "nats://localhost:4222")

	v.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO_ACCESS_KEY", "minioadmin")
	v.SetDefault("MINIO_SECRET_KEY", "minioadmin")
	v.SetDefault("MINIO_BUCKET", "payment-proofs")
	v.SetDefault("MINIO_USE_SSL", false)

	v.SetDefault("SMTP_HOST", "localhost")
	v.SetDefault("SMTP_PORT", 1025)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_SENDER", "no-reply@jx3-market.local")
	v.SetDefault("SMTP_ENCRYPTION", "none")

	v.SetDefault("JWT_SECRET", insecureDefaultSecret)
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("BCRYPT_COST", 12)

	v.SetDefault("VERIFICATION_CODE_TTL", "10m")
	v.SetDefault("LISTING_CACHE_TTL", "30s")

	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)

	v.SetDefault("RECONCILE_SCHEDULE", "@every 5m")

	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_OUTPUT_FILE", "stdout")

	v.SetDefault("ADMIN_EMAIL", "")
	v.SetDefault("ADMIN_PASSWORD", "")
	v.SetDefault("ADMIN_NAME", "System Administrator")
}

// LoadConfig reads configuration from the environment. A .env file, if any,
// is loaded by main before this is called.
func LoadConfig(appLogger *logger.Logger) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		appLogger.Error("Failed to unmarshal configuration", zap.Error(err))
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.JWTSecret == insecureDefaultSecret {
		appLogger.Warn("JWT_SECRET is set to its insecure default value. Set a strong secret in the environment.")
	}

	appLogger.Debug("Configuration loaded",
		zap.String("service_name", cfg.ServiceName),
		zap.String("app_env", cfg.AppEnv),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("grpc_port", cfg.GRPCPort),
		zap.String("mongo_database", cfg.MongoDatabase),
		zap.String("redis_addr", cfg.RedisAddr),
		zap.String("nats_url", cfg.NATSURL),
		zap.String("minio_endpoint", cfg.MinioEndpoint),
		zap.String("smtp_host", cfg.SMTPHost),
		zap.String("reconcile_schedule", cfg.ReconcileSchedule),
		zap.String("otel_endpoint", cfg.OTelExporterOTLPEndpoint),
	)
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.MongoURI == "" {
		return errors.New("MONGO_URI is required")
	}
	if c.MongoDatabase == "" {
		return errors.New("MONGO_DATABASE is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if !c.IsDevelopment() && len(c.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 bytes outside development")
	}
	if c.JWTTTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}
	if c.VerificationCodeTTL <= 0 {
		return errors.New("VERIFICATION_CODE_TTL must be positive")
	}
	return nil
}
