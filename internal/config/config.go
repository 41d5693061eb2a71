package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Email    EmailConfig
	Geo      GeoConfig
	Otp      OtpConfig
	Risk     RiskConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	Environment     string
	AllowedOrigins  []string
	TrustedProxies  []string
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
}

type EmailConfig struct {
	Region      string
	FromAddress string
	FromName    string
}

type GeoConfig struct {
	// Endpoint is the IP geolocation service URL; %s is replaced with the
	// source address. Empty disables lookups and every login resolves to
	// the unknown location.
	Endpoint string
	Timeout  time.Duration
}

type OtpConfig struct {
	CodeLength  int
	Expiry      time.Duration
	MaxAttempts int
}

type RiskConfig struct {
	// ClassifierWeightsPath points at a JSON file of logistic regression
	// weights. Empty runs the engine on rules alone.
	ClassifierWeightsPath string

	// MediumThreshold and ChallengeThreshold are the score boundaries of
	// the medium and high risk bands. A high score always challenges.
	MediumThreshold    int
	ChallengeThreshold int

	// Country overrides replace the built-in policy tiers when set.
	TrustedCountries []string
	DeniedCountries  []string
	StepUpCountries  []string
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			Environment:     getEnv("ENVIRONMENT", "development"),
			AllowedOrigins:  getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			TrustedProxies:  getEnvAsSlice("TRUSTED_PROXIES", nil),
		},
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "ztverify"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret:          getEnv("JWT_SECRET", ""),
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			Issuer:             getEnv("JWT_ISSUER", "ztverify"),
		},
		Email: EmailConfig{
			Region:      getEnv("AWS_SES_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
			FromName:    getEnv("EMAIL_FROM_NAME", "ZT-Verify"),
		},
		Geo: GeoConfig{
			Endpoint: getEnv("GEO_ENDPOINT", ""),
			Timeout:  getEnvAsDuration("GEO_TIMEOUT", 2*time.Second),
		},
		Otp: OtpConfig{
			CodeLength:  getEnvAsInt("OTP_CODE_LENGTH", 6),
			Expiry:      getEnvAsDuration("OTP_EXPIRY", 5*time.Minute),
			MaxAttempts: getEnvAsInt("OTP_MAX_ATTEMPTS", 3),
		},
		Risk: RiskConfig{
			ClassifierWeightsPath: getEnv("RISK_CLASSIFIER_WEIGHTS", ""),
			MediumThreshold:       getEnvAsInt("RISK_MEDIUM_THRESHOLD", 30),
			ChallengeThreshold:    getEnvAsInt("RISK_CHALLENGE_THRESHOLD", 70),
			TrustedCountries:      getEnvAsSlice("RISK_TRUSTED_COUNTRIES", nil),
			DeniedCountries:       getEnvAsSlice("RISK_DENIED_COUNTRIES", nil),
			StepUpCountries:       getEnvAsSlice("RISK_STEP_UP_COUNTRIES", nil),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.Database.Password == "" && c.Server.Environment == "production" {
		return fmt.Errorf("DB_PASSWORD is required in production")
	}
	if c.Otp.CodeLength < 4 || c.Otp.CodeLength > 10 {
		return fmt.Errorf("OTP_CODE_LENGTH must be between 4 and 10")
	}
	if c.Otp.MaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1")
	}
	if c.Risk.ChallengeThreshold < 1 || c.Risk.ChallengeThreshold > 100 {
		return fmt.Errorf("RISK_CHALLENGE_THRESHOLD must be between 1 and 100")
	}
	if c.Risk.MediumThreshold < 1 || c.Risk.MediumThreshold >= c.Risk.ChallengeThreshold {
		return fmt.Errorf("RISK_MEDIUM_THRESHOLD must be at least 1 and below RISK_CHALLENGE_THRESHOLD")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: invalid value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Warning: invalid duration for %s, using default: %v", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
