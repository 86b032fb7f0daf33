package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	PostgresURL  string `env:"POSTGRES_URL,required,notEmpty"`
	RedisAddr    string `env:"REDIS_ADDR"` // empty disables the enrichment lease
	SourceSystem string `env:"SOURCE_SYSTEM" envDefault:"network_logs_v1"`

	InputFiles       []string `env:"INPUT_FILES" envSeparator:","`
	OutputDir        string   `env:"OUTPUT_DIR" envDefault:"output"`
	SeedFile         string   `env:"SEED_FILE" envDefault:"output/events.json"`
	AllowedProviders []string `env:"ALLOWED_PROVIDERS" envSeparator:","`
	MetricsTextfile  string   `env:"METRICS_TEXTFILE"`

	SpoolPath        string `env:"SPOOL_PATH" envDefault:"./spool"`
	SpoolSegmentSize int64  `env:"SPOOL_SEGMENT_SIZE_BYTES" envDefault:"10485760"`   // 10MB
	SpoolMaxDiskSize int64  `env:"SPOOL_MAX_DISK_SIZE_BYTES" envDefault:"104857600"` // 100MB

	OpenAIAPIKey  string        `env:"OPENAI_API_KEY"`
	OpenAIModel   string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAITimeout time.Duration `env:"OPENAI_TIMEOUT" envDefault:"30s"`

	EnrichBatchSize        int           `env:"ENRICH_BATCH_SIZE" envDefault:"50"`
	EnrichInterval         time.Duration `env:"ENRICH_INTERVAL" envDefault:"10s"`
	EnrichPace             time.Duration `env:"ENRICH_PACE" envDefault:"500ms"`
	EnrichMaxAttempts      int           `env:"ENRICH_MAX_ATTEMPTS" envDefault:"3"`
	EnrichRetryBase        time.Duration `env:"ENRICH_RETRY_BASE" envDefault:"1s"`
	EnrichMaxEventFailures int           `env:"ENRICH_MAX_EVENT_FAILURES" envDefault:"5"` // 0 retries forever
	EnrichLeaseTTL         time.Duration `env:"ENRICH_LEASE_TTL" envDefault:"2m"`
	EnrichRunOnce          bool          `env:"ENRICH_RUN_ONCE" envDefault:"false"`

	AdminAddr string `env:"ADMIN_ADDR" envDefault:":9091"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
