package main

import (
	"os"
	"strconv"
	"time"
)

type config struct {
	Addr           string        // HTTP listen address (default: :8080)
	DatabaseFile   string        // Path to the SQLite database file (default: ./jwtguard.db)
	PrivateKeyFile string        // Path to the RSA private key PEM; empty generates an ephemeral key
	KeyPassphrase  string        // Passphrase when the key file is encrypted (see cryptox.EncryptPrivateKey)
	Issuer         string        // Optional iss claim
	Audience       string        // Optional aud claim
	PersistAccess  bool          // Store access token fingerprints so logout revokes them (default: false)
	AccessTTL      time.Duration // Access token lifetime (default: 15m)
	RefreshTTL     time.Duration // Refresh token lifetime (default: 168h)
	Env            string        // Environment (default: dev)
	LogLevel       string        // Log level (default: info)
	LogFormat      string        // Log format (default: json)
}

func loadConfig() config {
	return config{
		Addr:           getEnvOrDefault("JWTGUARD_ADDR", ":8080"),
		DatabaseFile:   getEnvOrDefault("JWTGUARD_DATABASE_FILE", "jwtguard.db"),
		PrivateKeyFile: os.Getenv("JWTGUARD_PRIVATE_KEY_FILE"),
		KeyPassphrase:  os.Getenv("JWTGUARD_KEY_PASSPHRASE"),
		Issuer:         os.Getenv("JWTGUARD_ISSUER"),
		Audience:       os.Getenv("JWTGUARD_AUDIENCE"),
		PersistAccess:  getEnvBoolOrDefault("JWTGUARD_PERSIST_ACCESS_TOKEN", false),
		AccessTTL:      getEnvDurationOrDefault("JWTGUARD_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:     getEnvDurationOrDefault("JWTGUARD_REFRESH_TTL", 7*24*time.Hour),
		Env:            getEnvOrDefault("ENV", "dev"),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:      getEnvOrDefault("LOG_FORMAT", "json"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
