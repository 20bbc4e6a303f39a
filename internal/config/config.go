package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries everything the handlers and subsystems need from the
// environment. It is loaded once in main and passed down explicitly so that
// feature flags like UsersOpenRegistration are injectable in tests.
type Config struct {
	Port        string
	DatabaseURL string

	JWTSecret       string
	SessionTokenTTL time.Duration

	ProjectName           string
	AppURL                string
	UsersOpenRegistration bool

	// Verification tokens issued at open registration.
	EmailTokenTTL time.Duration

	// Operator address that receives new-account notifications.
	EmailsFromEmail string

	FirstSuperuser         string
	FirstSuperuserPassword string
}

// Load reads configuration from environment variables. Call godotenv.Load
// before this if a .env file should be honored.
func Load() Config {
	cfg := Config{
		Port:                   getenv("PORT", "8080"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		JWTSecret:              getenv("JWT_SECRET", "supersecret"),
		SessionTokenTTL:        72 * time.Hour,
		ProjectName:            getenv("PROJECT_NAME", "VolunteerHub"),
		AppURL:                 getenv("APP_URL", "http://localhost:3000"),
		UsersOpenRegistration:  getbool("USERS_OPEN_REGISTRATION", true),
		EmailTokenTTL:          time.Duration(getint("EMAIL_TOKEN_EXPIRE_HOURS", 48)) * time.Hour,
		EmailsFromEmail:        os.Getenv("EMAILS_FROM_EMAIL"),
		FirstSuperuser:         os.Getenv("FIRST_SUPERUSER"),
		FirstSuperuserPassword: os.Getenv("FIRST_SUPERUSER_PASSWORD"),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			os.Getenv("DB_USER"),
			os.Getenv("DB_PASSWORD"),
			getenv("DB_HOST", "localhost"),
			getenv("DB_PORT", "5432"),
			os.Getenv("DB_NAME"),
		)
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getbool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
