package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser        string
	DBPassword    string
	DBName        string
	DBHost        string
	DBPort        string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	BotToken      string

	// BaseURL is the public address of the API, used for the web app button.
	BaseURL string
	// APIURL is where the bot reaches the API. Defaults to BaseURL.
	APIURL    string
	HTTPAddr  string
	StaticDir string
	LogLevel  string

	PremiumThreshold int
	QualifiedLevel   int
	SweepInterval    time.Duration
	RateLimitRPS     int
	RateLimitBurst   int

	MetricsAllowedCIDRs []string
	TrustedProxyCIDRs   []string
	// InternalAPIToken is shared by the bot and the API so bot traffic
	// bypasses the per-client rate limit.
	InternalAPIToken string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	baseURL := strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/")

	return &Config{
		DBUser:           getEnv("DB_USER", "postgres"),
		DBPassword:       getEnv("DB_PASSWORD", "postgres"),
		DBName:           getEnv("DB_NAME", "speakadora"),
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnv("DB_PORT", "5432"),
		RedisHost:        getEnv("REDIS_HOST", "localhost"),
		RedisPort:        getEnv("REDIS_PORT", "6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		BotToken:         getEnv("TELEGRAM_BOT_TOKEN", ""),
		BaseURL:          baseURL,
		APIURL:           strings.TrimRight(getEnv("API_URL", baseURL), "/"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		StaticDir:        getEnv("STATIC_DIR", "static"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		PremiumThreshold: getEnvInt("PREMIUM_THRESHOLD", 10),
		QualifiedLevel:   getEnvInt("QUALIFIED_LEVEL", 5),
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", time.Hour),
		RateLimitRPS:     getEnvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 40),
		MetricsAllowedCIDRs: strings.Split(
			getEnv("METRICS_ALLOWED_CIDRS", "127.0.0.0/8,::1/128,10.0.0.0/8,172.16.0.0/12,192.168.0.0/16"), ","),
		TrustedProxyCIDRs: strings.Split(getEnv("TRUSTED_PROXY_CIDRS", "127.0.0.0/8,::1/128"), ","),
		InternalAPIToken:  getEnv("INTERNAL_API_TOKEN", ""),
	}
}

// WebAppURL is the embedded view entry point opened from the bot keyboard.
func (c *Config) WebAppURL() string {
	return c.BaseURL + "/static/index.html"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Printf("Invalid %s=%q, using default %d", key, value, fallback)
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	if strings.TrimSpace(value) == "0" {
		return 0
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		log.Printf("Invalid %s=%q, using default %s", key, value, fallback)
		return fallback
	}
	return parsed
}
