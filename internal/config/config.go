package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string

	// Redis configuration
	RedisURL string

	// Firebase / Firestore configuration
	FirebaseCredentials string
	FirebaseProjectID   string

	// Payment provider configuration
	ProviderBaseURL  string
	ProviderRootCert string // PEM file with the provider's trusted root certificate
	PremiumProductID string

	// Billing policy
	// Fallback only: used when the verified transaction carries no
	// provider-declared expiry.
	BillingPeriodMonths int

	// Brevo email configuration
	BrevoAPIKey    string
	BrevoFromEmail string
	BrevoFromName  string

	// Status cache configuration
	StatusCacheSeconds int
	ServiceName        string
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	AppConfig = &Config{
		Port:                getEnv("PORT", "8080"),
		Mode:                getEnv("GIN_MODE", "debug"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
		FirebaseCredentials: getEnv("FIREBASE_CREDENTIALS", ""),
		FirebaseProjectID:   getEnv("FIREBASE_PROJECT_ID", ""),
		ProviderBaseURL:     getEnv("PROVIDER_BASE_URL", ""),
		ProviderRootCert:    getEnv("PROVIDER_ROOT_CERT", ""),
		PremiumProductID:    getEnv("PREMIUM_PRODUCT_ID", "com.shapenote.premium.monthly"),
		BillingPeriodMonths: getEnvInt("BILLING_PERIOD_MONTHS", 1),
		BrevoAPIKey:         getEnv("BREVO_API_KEY", ""),
		BrevoFromEmail:      getEnv("BREVO_FROM_EMAIL", ""),
		BrevoFromName:       getEnv("BREVO_FROM_NAME", "ShapeNote"),
		StatusCacheSeconds:  getEnvInt("STATUS_CACHE_SECONDS", 60),
		ServiceName:         getEnv("SERVICE_NAME", "Subscription Service"),
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
