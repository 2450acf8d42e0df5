package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const minSecretLength = 32

// Config holds the application configuration
type Config struct {
	Port        string `env:"PORT" env-default:"8080"`
	DevMode     bool   `env:"DEV_MODE" env-default:"false"`
	LogLevel    string `env:"LOG_LEVEL" env-default:"info"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	JWT        JWT
	OTP        OTP
	Mail       Mail
	HTTP       HTTP
	BcryptCost int `env:"BCRYPT_COST" env-default:"10"`
}

// JWT groups token signing settings
type JWT struct {
	AuthSecret         string        `env:"JWT_AUTH_SECRET"`
	AccessTTL          time.Duration `env:"JWT_EXPIRATION_TIME" env-default:"15m"`
	RefreshTTL         time.Duration `env:"JWT_REFRESH_EXPIRATION_TIME" env-default:"168h"`
	VerificationSecret string        `env:"VERIFICATION_SECRET"`
	VerificationTTL    time.Duration `env:"VERIFICATION_EXPIRATION_TIME" env-default:"15m"`
	Issuer             string        `env:"JWT_ISSUER" env-default:"http://localhost:8080"`
	Audience           string        `env:"JWT_AUDIENCE" env-default:"celestialseal"`
}

// OTP groups one-time passcode settings
type OTP struct {
	Expiry   time.Duration `env:"OTP_EXPIRY" env-default:"10m"`
	Cooldown time.Duration `env:"OTP_COOLDOWN" env-default:"60s"`
}

// Mail groups SMTP settings. An empty Host means mails are only logged.
type Mail struct {
	Host     string `env:"MAIL_HOST"`
	Port     int    `env:"MAIL_PORT" env-default:"587"`
	Username string `env:"MAIL_USERNAME"`
	Password string `env:"MAIL_PASSWORD"`
	From     string `env:"MAIL_FROM" env-default:"Celestial Seal <celestialseal@open.com>"`
}

// HTTP groups transport settings
type HTTP struct {
	CORSOrigins      []string `env:"CORS_ORIGINS" env-separator:"," env-default:"http://localhost:3000"`
	AuthRateLimitRPM int      `env:"AUTH_RATE_LIMIT_RPM" env-default:"10"`
	CookieSecure     bool     `env:"COOKIE_SECURE" env-default:"false"`
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants cleanenv tags cannot express
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" && !c.DevMode {
		errs = append(errs, errors.New("DATABASE_URL environment variable is required"))
	}
	if c.Mail.Host == "" && !c.DevMode {
		errs = append(errs, errors.New("MAIL_HOST environment variable is required"))
	}
	if len(c.JWT.AuthSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("JWT_AUTH_SECRET must be at least %d characters", minSecretLength))
	}
	if len(c.JWT.VerificationSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("VERIFICATION_SECRET must be at least %d characters", minSecretLength))
	}
	if c.JWT.AuthSecret != "" && c.JWT.AuthSecret == c.JWT.VerificationSecret {
		errs = append(errs, errors.New("JWT_AUTH_SECRET and VERIFICATION_SECRET must differ"))
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 || c.JWT.VerificationTTL <= 0 {
		errs = append(errs, errors.New("token expiration times must be positive"))
	}
	if c.OTP.Expiry <= 0 || c.OTP.Cooldown <= 0 {
		errs = append(errs, errors.New("OTP_EXPIRY and OTP_COOLDOWN must be positive"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, errors.New("BCRYPT_COST must be between 4 and 31"))
	}
	if c.HTTP.AuthRateLimitRPM <= 0 {
		errs = append(errs, errors.New("AUTH_RATE_LIMIT_RPM must be positive"))
	}

	return errors.Join(errs...)
}
