package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port       string
	Env        string
	GenAI      GenAIConfig
	Engine     EngineConfig
	ImageStore ImageStoreConfig
	RateLimit  RateLimitConfig
}

type GenAIConfig struct {
	APIKey     string
	ImageModel string
	JudgeModel string
	Timeout    time.Duration
}

type EngineConfig struct {
	StoreDSN            string
	ScoreStep           float64
	AttemptsPerSession  int
	EvolveEverySessions int
	RetirePerCycle      int
}

type ImageStoreConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8080", "server port")
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	return &Config{
		Port:       *port,
		Env:        env,
		GenAI:      loadGenAIConfig(),
		Engine:     loadEngineConfig(),
		ImageStore: loadImageStoreConfig(env),
		RateLimit: RateLimitConfig{
			RPS:   envFloat("RATE_LIMIT_RPS", 1),
			Burst: envInt("RATE_LIMIT_BURST", 4),
		},
	}, nil
}

func loadGenAIConfig() GenAIConfig {
	return GenAIConfig{
		APIKey:     strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		ImageModel: firstNonEmpty(strings.TrimSpace(os.Getenv("GENAI_IMAGE_MODEL")), "gemini-2.5-flash-image"),
		JudgeModel: firstNonEmpty(strings.TrimSpace(os.Getenv("GENAI_JUDGE_MODEL")), "gemini-2.5-flash"),
		Timeout:    time.Duration(envInt("GENAI_TIMEOUT_SECONDS", 60)) * time.Second,
	}
}

func loadEngineConfig() EngineConfig {
	return EngineConfig{
		StoreDSN:            strings.TrimSpace(os.Getenv("STRATEGY_STORE_PG_DSN")),
		ScoreStep:           envFloat("ENGINE_SCORE_STEP", 0.05),
		AttemptsPerSession:  envInt("ENGINE_ATTEMPTS_PER_SESSION", 4),
		EvolveEverySessions: envInt("ENGINE_EVOLVE_EVERY_SESSIONS", 5),
		RetirePerCycle:      envInt("ENGINE_RETIRE_PER_CYCLE", 2),
	}
}

func loadImageStoreConfig(env string) ImageStoreConfig {
	endpoint := resolveImageStoreEndpoint(env)
	return ImageStoreConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("IMAGE_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("IMAGE_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("IMAGE_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("IMAGE_S3_BUCKET")), "hairlab-images"),
		UseSSL:    resolveImageStoreUseSSL(env),
	}
}

func resolveImageStoreEndpoint(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return strings.TrimSpace(os.Getenv("IMAGE_MINIO_ENDPOINT"))
	}
	return strings.TrimSpace(os.Getenv("IMAGE_S3_ENDPOINT"))
}

func resolveImageStoreUseSSL(env string) bool {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("IMAGE_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
