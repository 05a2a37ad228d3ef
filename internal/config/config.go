package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName              string
	AppEnv               string
	AppPort              string
	CORSAllowOrigins     string
	DatabaseURL          string
	DBMaxOpenConns       int
	DBMaxIdleConns       int
	RedisURL             string
	NATSURL              string
	EventChannel         string
	JWTSecret            string
	MasteryCacheTTL      time.Duration
	SummativeWeight      float64
	OpenAIAPIKey         string
	OpenAIModel          string
	OpenAIBaseURL        string
	AIGradingTimeout     time.Duration
	AIReviewThreshold    float64
	GradingLanguage      string
	AttemptRateLimit     int
	AttemptRateWindow    time.Duration
	AttemptSweepInterval time.Duration
	AttemptMaxAge        time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// AIGradingEnabled reports whether an open-ended grader can be built.
func (c Config) AIGradingEnabled() bool {
	return strings.TrimSpace(c.OpenAIAPIKey) != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Mastery API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("events.channel", "gema:mastery")
	v.SetDefault("mastery.cache_ttl", "5m")
	v.SetDefault("mastery.summative_weight", 1.0)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("ai.timeout", "30s")
	v.SetDefault("ai.review_threshold", 0.7)
	v.SetDefault("ai.language", "en")
	v.SetDefault("attempts.rate_limit", 30)
	v.SetDefault("attempts.rate_window", "1m")
	v.SetDefault("attempts.sweep_interval", "10m")
	v.SetDefault("attempts.max_age", "24h")

	durations := map[string]time.Duration{}
	for _, key := range []string{"mastery.cache_ttl", "ai.timeout", "attempts.rate_window", "attempts.sweep_interval", "attempts.max_age"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:              v.GetString("app.name"),
		AppEnv:               v.GetString("app.env"),
		AppPort:              v.GetString("app.port"),
		CORSAllowOrigins:     v.GetString("http.cors_origins"),
		DatabaseURL:          v.GetString("database.url"),
		DBMaxOpenConns:       v.GetInt("database.max_open_conns"),
		DBMaxIdleConns:       v.GetInt("database.max_idle_conns"),
		RedisURL:             v.GetString("redis.url"),
		NATSURL:              v.GetString("nats.url"),
		EventChannel:         v.GetString("events.channel"),
		JWTSecret:            v.GetString("jwt.secret"),
		MasteryCacheTTL:      durations["mastery.cache_ttl"],
		SummativeWeight:      v.GetFloat64("mastery.summative_weight"),
		OpenAIAPIKey:         v.GetString("openai.api_key"),
		OpenAIModel:          v.GetString("openai.model"),
		OpenAIBaseURL:        v.GetString("openai.base_url"),
		AIGradingTimeout:     durations["ai.timeout"],
		AIReviewThreshold:    v.GetFloat64("ai.review_threshold"),
		GradingLanguage:      strings.ToLower(v.GetString("ai.language")),
		AttemptRateLimit:     v.GetInt("attempts.rate_limit"),
		AttemptRateWindow:    durations["attempts.rate_window"],
		AttemptSweepInterval: durations["attempts.sweep_interval"],
		AttemptMaxAge:        durations["attempts.max_age"],
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.SummativeWeight <= 0 || cfg.SummativeWeight > 1 {
		return Config{}, fmt.Errorf("summative weight must be in (0, 1], got %v", cfg.SummativeWeight)
	}

	if cfg.AIReviewThreshold < 0 || cfg.AIReviewThreshold > 1 {
		return Config{}, fmt.Errorf("ai review threshold must be between 0 and 1, got %v", cfg.AIReviewThreshold)
	}

	return cfg, nil
}
