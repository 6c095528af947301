package config

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Client
	APIBaseURL      string
	StateDB         string
	DefaultModel    string
	StreamEndPolicy string

	// Development backend
	DatabaseURL  string
	HTTPPort     string
	JWTSecret    string
	GeminiAPIKey string

	LogLevel string
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		APIBaseURL:      strings.TrimSuffix(getEnv("API_BASE_URL", "http://localhost:8080"), "/"),
		StateDB:         getEnv("STATE_DB", "chat_client.db"),
		DefaultModel:    getEnv("DEFAULT_MODEL", ""),
		StreamEndPolicy: getEnv("STREAM_END_POLICY", "synthesize"),
		DatabaseURL:     getEnv("DATABASE_URL", "chat_server.db"),
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
	}
}

// RequireServerSecrets stops the process when the development backend is
// started without a signing secret.
func RequireServerSecrets() {
	if AppConfig.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
}

func Debug() bool {
	return strings.EqualFold(AppConfig.LogLevel, "DEBUG")
}

// Debugf logs only when LOG_LEVEL=DEBUG.
func Debugf(format string, v ...any) {
	if Debug() {
		log.Printf("DEBUG "+format, v...)
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
