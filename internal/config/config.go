package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL        string
	ServerAddr         string
	MigrationsDir      string
	AuthorityID        string
	AuthorityTokenHash string
	EnrollmentRule     string
}

// Load reads configuration from a .env file if present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "ballot")
		pass := getenv("POSTGRES_PASSWORD", "ballot_pass")
		db := getenv("POSTGRES_DB", "ballot")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	return &Config{
		DatabaseURL:        dsn,
		ServerAddr:         getenv("SERVER_ADDR", "0.0.0.0:8080"),
		MigrationsDir:      getenv("MIGRATIONS_DIR", "internal/migrations"),
		AuthorityID:        getenv("AUTHORITY_ID", "authority"),
		AuthorityTokenHash: os.Getenv("AUTHORITY_TOKEN_HASH"),
		EnrollmentRule:     os.Getenv("ENROLLMENT_RULE"),
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}
