package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via env files or the environment.
type AppConfig struct {
	AppPort            string   `env:"APP_PORT" envDefault:"8080"`
	AllowedOrigins     []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	RateLimitPerMinute int      `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	// Gin framework configuration
	GinMode string `env:"GIN_MODE" envDefault:"release"`
	GinPath string `env:"GIN_PATH" envDefault:"logs/go_gin.log"`

	// Database
	DBDriver    string `env:"DB_DRIVER" envDefault:"mysql"`
	DatabaseURI string `env:"DATABASE_URI"`
	DBHost      string `env:"DB_HOST" envDefault:"127.0.0.1"`
	DBPort      string `env:"DB_PORT" envDefault:"3306"`
	DBUser      string `env:"DB_USER" envDefault:"root"`
	DBPassword  string `env:"DB_PASSWORD"`
	DBName      string `env:"DB_NAME" envDefault:"audiohub"`

	// Token signing
	JWTSecret        string `env:"JWT_SECRET"`
	JWTAlgorithm     string `env:"JWT_ALGORITHM" envDefault:"HS256"`
	JWTExpireMinutes int    `env:"JWT_EXPIRE_MINUTES" envDefault:"60"`

	// Uploads
	StorageDriver       string        `env:"STORAGE_DRIVER" envDefault:"local"`
	UploadDir           string        `env:"UPLOAD_DIR" envDefault:"uploads"`
	MaxUploadMB         int           `env:"MAX_UPLOAD_MB" envDefault:"50"`
	OrphanSweepInterval time.Duration `env:"ORPHAN_SWEEP_INTERVAL" envDefault:"30m"`
	S3Bucket            string        `env:"S3_BUCKET"`
	S3Region            string        `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint          string        `env:"S3_ENDPOINT"`
	S3AccessKeyID       string        `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey         string        `env:"S3_SECRET_ACCESS_KEY"`
	S3ForcePathStyle    bool          `env:"S3_FORCE_PATH_STYLE"`
	S3Prefix            string        `env:"S3_PREFIX" envDefault:"audios"`

	// Yandex OAuth
	YandexClientID     string        `env:"YANDEX_CLIENT_ID"`
	YandexClientSecret string        `env:"YANDEX_CLIENT_SECRET"`
	YandexAuthURL      string        `env:"YANDEX_AUTH_URL"`
	YandexTokenURL     string        `env:"YANDEX_TOKEN_URL"`
	YandexUserInfoURL  string        `env:"YANDEX_USERINFO_URL" envDefault:"https://login.yandex.ru/info?format=json"`
	YandexRedirectURI  string        `env:"YANDEX_REDIRECT_URI" envDefault:"http://localhost:8080/auth/yandex/callback"`
	OAuthHTTPTimeout   time.Duration `env:"OAUTH_HTTP_TIMEOUT" envDefault:"10s"`

	// Superuser bootstrap
	SuperuserEmail    string `env:"SUPERUSER_EMAIL"`
	SuperuserPassword string `env:"SUPERUSER_PASSWORD"`
	SuperuserUsername string `env:"SUPERUSER_USERNAME" envDefault:"admin"`

	// Redis for revocation and oauth state; empty address keeps everything in memory
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisDB       int    `env:"REDIS_DB"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// Logging configuration
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogPath       string `env:"LOG_PATH"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"3"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"7"`
	LogCompress   bool   `env:"LOG_COMPRESS"`
}

// Load reads configuration from an optional .env file and the process environment.
// It should be called once during boot and the result passed to constructors.
func Load() (AppConfig, error) {
	if path := os.Getenv("ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return AppConfig{}, fmt.Errorf("load env file %s: %w", path, err)
		}
	} else {
		// a missing .env is fine, the environment may already be populated
		_ = godotenv.Load()
	}

	cfg, err := env.ParseAs[AppConfig]()
	if err != nil {
		return AppConfig{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c AppConfig) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set in environment variables")
	}
	switch strings.ToUpper(c.JWTAlgorithm) {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("unsupported JWT_ALGORITHM %q", c.JWTAlgorithm)
	}
	if c.JWTExpireMinutes <= 0 {
		return errors.New("JWT_EXPIRE_MINUTES must be positive")
	}
	switch strings.ToLower(c.StorageDriver) {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET is required when STORAGE_DRIVER=s3")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}
	return nil
}

// TokenTTL returns the configured token lifetime.
func (c AppConfig) TokenTTL() time.Duration {
	return time.Duration(c.JWTExpireMinutes) * time.Minute
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c AppConfig) MaxUploadBytes() int64 {
	if c.MaxUploadMB <= 0 {
		return 50 << 20
	}
	return int64(c.MaxUploadMB) << 20
}

// YandexConfigured reports whether the oauth client credentials are present.
func (c AppConfig) YandexConfigured() bool {
	return c.YandexClientID != "" && c.YandexClientSecret != ""
}
