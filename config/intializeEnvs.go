package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	godotenv "github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Staging and store backends.
const (
	StagingLocal = "local"
	StagingS3    = "s3"

	StoreDynamo = "dynamo"
	StoreBadger = "badger"

	VisionGemini = "gemini"
	VisionOllama = "ollama"
	VisionOpenAI = "openai"

	JudgmentWords     = "words"
	JudgmentSubstring = "substring"
)

type Config struct {
	AppEnv string

	RabbitMqURL       string
	DispatchQueue     string
	StatusExchange    string
	StatusQueue       string
	WorkerCount       int
	Prefetch          int
	EnsemblePoolSize  int
	ShutdownGrace     time.Duration
	ReconnectInterval time.Duration

	StagingBackend string
	StagingDir     string
	AwsBucketName  string

	AwsRegion          string
	AwsEndpoint        string
	AwsAccessKeyID     string
	AwsSecretAccessKey string

	StoreBackend string
	DynamoTable  string
	BadgerPath   string

	VisionProvider        string
	VisionModel           string
	VisionBaseURL         string
	GeminiAPIKey          string
	OpenAIAPIKey          string
	ValidatorTimeout      time.Duration
	ValidatorSystemPrompt string
	ValidatorJudgment     string

	PredictionTimeout time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	ModelsFile        string

	StatusAddr string
	LogLevel   string
	LogFormat  string
}

// InitializeEnvs loads the env file selected by APP_ENV on top of the process
// environment and builds a validated Config.
func InitializeEnvs() (*Config, error) {
	loadEnvFiles(os.Getenv("APP_ENV"))

	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "dev"),

		RabbitMqURL:       os.Getenv("RABBITMQ_URL"),
		DispatchQueue:     getEnv("RABBITMQ_DISPATCH_QUEUE", "brainscan_dispatch"),
		StatusExchange:    getEnv("RABBITMQ_STATUS_EXCHANGE", "brainscan"),
		StatusQueue:       getEnv("RABBITMQ_STATUS_QUEUE", "brainscan_status"),
		StagingBackend:    strings.ToLower(getEnv("STAGING_BACKEND", StagingLocal)),
		StagingDir:        getEnv("STAGING_DIR", "storage"),
		AwsBucketName:     os.Getenv("AWS_BUCKET_NAME"),
		AwsRegion:         os.Getenv("AWS_REGION"),
		AwsEndpoint:       os.Getenv("AWS_ENDPOINT_URL"),
		StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", StoreBadger)),
		DynamoTable:       getEnv("DYNAMO_TABLE", "brainscan"),
		BadgerPath:        getEnv("BADGER_PATH", "data/badger"),
		VisionProvider:    strings.ToLower(getEnv("VISION_PROVIDER", VisionGemini)),
		VisionModel:       os.Getenv("VISION_MODEL"),
		VisionBaseURL:     os.Getenv("VISION_BASE_URL"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		ValidatorJudgment: strings.ToLower(getEnv("VALIDATOR_JUDGMENT", JudgmentSubstring)),
		ModelsFile:        getEnv("MODELS_FILE", "models.yaml"),
		StatusAddr:        getEnv("STATUS_ADDR", ":8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
	}
	cfg.ValidatorSystemPrompt = os.Getenv("VALIDATOR_SYSTEM_PROMPT")
	cfg.AwsAccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	cfg.AwsSecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")

	var err error
	if cfg.WorkerCount, err = getInt("WORKER_COUNT", 2); err != nil {
		return nil, err
	}
	if cfg.Prefetch, err = getInt("RABBITMQ_PREFETCH", 1); err != nil {
		return nil, err
	}
	if cfg.EnsemblePoolSize, err = getInt("ENSEMBLE_POOL_SIZE", 8); err != nil {
		return nil, err
	}
	if cfg.RetryAttempts, err = getInt("RETRY_ATTEMPTS", 2); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = getDuration("RETRY_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.ValidatorTimeout, err = getDuration("VALIDATOR_TIMEOUT", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.PredictionTimeout, err = getDuration("PREDICTION_TIMEOUT", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownGrace, err = getDuration("SHUTDOWN_GRACE", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReconnectInterval, err = getDuration("RABBITMQ_RECONNECT_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required keys and enumerated values.
func (c *Config) Validate() error {
	var missing []string
	if c.RabbitMqURL == "" {
		missing = append(missing, "RABBITMQ_URL")
	}
	if c.StagingBackend == StagingS3 && c.AwsBucketName == "" {
		missing = append(missing, "AWS_BUCKET_NAME")
	}
	if c.VisionProvider == VisionGemini && c.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if c.VisionProvider == VisionOpenAI && c.VisionModel == "" {
		missing = append(missing, "VISION_MODEL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	switch c.StagingBackend {
	case StagingLocal, StagingS3:
	default:
		return fmt.Errorf("STAGING_BACKEND must be %q or %q, got %q", StagingLocal, StagingS3, c.StagingBackend)
	}
	switch c.StoreBackend {
	case StoreDynamo, StoreBadger:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreDynamo, StoreBadger, c.StoreBackend)
	}
	switch c.VisionProvider {
	case VisionGemini, VisionOllama, VisionOpenAI:
	default:
		return fmt.Errorf("VISION_PROVIDER must be one of gemini, ollama, openai, got %q", c.VisionProvider)
	}

	switch c.ValidatorJudgment {
	case JudgmentWords, JudgmentSubstring:
	default:
		return fmt.Errorf("VALIDATOR_JUDGMENT must be %q or %q, got %q", JudgmentWords, JudgmentSubstring, c.ValidatorJudgment)
	}

	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be >= 1, got %d", c.WorkerCount)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be >= 1, got %d", c.RetryAttempts)
	}
	if c.Prefetch < 1 {
		c.Prefetch = 1
	}
	if c.EnsemblePoolSize < 1 {
		c.EnsemblePoolSize = 1
	}
	return nil
}

func loadEnvFiles(appEnv string) {
	switch appEnv {
	case "docker":
		if err := godotenv.Overload(".env.docker"); err == nil {
			log.Info().Msg("Loaded .env.docker")
		} else {
			log.Info().Msg(".env.docker not found, using existing environment")
		}
	case "dev", "":
		if err := godotenv.Overload(".env.dev"); err == nil {
			log.Info().Msg("Loaded .env.dev")
		} else if err := godotenv.Overload(".env"); err == nil {
			log.Info().Msg("Loaded .env")
		} else {
			log.Info().Msg("No .env.dev or .env found, using system environment variables")
		}
	default:
		fname := ".env." + appEnv
		if err := godotenv.Overload(fname); err == nil {
			log.Info().Str("file", fname).Msg("Loaded env file")
		} else if err := godotenv.Overload(".env"); err == nil {
			log.Info().Msg("Loaded .env")
		} else {
			log.Info().Str("file", fname).Msg("No env file found, using system environment variables")
		}
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, v, err)
	}
	return n, nil
}

// getDuration accepts Go durations ("90s") or plain seconds ("120").
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, v, err)
	}
	return d, nil
}
