package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	Port         string
	Env          string
	JWTSecret    string
	RedisAddr    string
	BotToken     string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	// AI provider selection: "gemini" (default) or "openai".
	// One embedding model is pinned per deployment; EmbedDim must match the
	// vector column or bootstrap fails.
	AIProvider   string
	GeminiAPIKey string
	OpenAIAPIKey string
	EmbedModel   string
	EmbedDim     int
	GenModel     string

	// Chunking knobs.
	MaxChunkSize          int
	GroupWindowSeconds    int
	ResponseWindowSeconds int
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		Port:         getEnv("PORT", "8080"),
		Env:          getEnv("APP_ENV", "dev"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		BotToken:     getEnv("TELEGRAM_BOT_TOKEN", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "t2t2-media"),

		AIProvider:   getEnv("AI_PROVIDER", "gemini"),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:     getEnvInt("EMBED_DIM", 768),
		GenModel:     getEnv("GEN_MODEL", "gemini-1.5-flash"),

		MaxChunkSize:          getEnvInt("MAX_CHUNK_SIZE", 400),
		GroupWindowSeconds:    getEnvInt("GROUP_TIME_WINDOW_SECONDS", 120),
		ResponseWindowSeconds: getEnvInt("LIKELY_RESPONSE_WINDOW_SECONDS", 30),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}
