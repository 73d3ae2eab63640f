package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every externally injected knob. Components receive the
// values they need at construction; nothing reads the environment later.
type Config struct {
	DBSource      string
	MigrationsDir string
	Port          string
	MetricsPort   string
	Env           string

	FeeBasisPoints int64
	FeeFixedAmount int64
	Currencies     []string

	SweepInterval    time.Duration
	SweepBatchSize   int
	SweepItemTimeout time.Duration
	SweepConcurrency int

	ProcessorBaseURL string
	ProcessorAPIKey  string
	ProcessorTimeout time.Duration
	WebhookSecret    string

	JWTSecret   string
	JWTAudience string
	CORSOrigins []string

	KafkaBrokers   []string
	KafkaTopic     string
	RelayInterval  time.Duration
	RelayBatchSize int
}

// Load reads the optional .env file, then the environment. DB_SOURCE is the
// only hard requirement; everything else has a development default.
func Load() (*Config, error) {
	// Missing .env is fine in production, the variables come from the
	// environment there.
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	cfg := &Config{
		DBSource:      dbSource,
		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),
		Port:          getEnv("SERVER_PORT", "8080"),
		MetricsPort:   getEnv("METRICS_PORT", "9091"),
		Env:           getEnv("ENVIRONMENT", "development"),

		FeeBasisPoints: getEnvInt64("FEE_BASIS_POINTS", 500),
		FeeFixedAmount: getEnvInt64("FEE_FIXED_AMOUNT", 50),
		Currencies:     getEnvList("SUPPORTED_CURRENCIES", "usd,eur,gbp"),

		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", time.Minute),
		SweepBatchSize:   getEnvInt("SWEEP_BATCH_SIZE", 50),
		SweepItemTimeout: getEnvDuration("SWEEP_ITEM_TIMEOUT", 5*time.Second),
		SweepConcurrency: getEnvInt("SWEEP_CONCURRENCY", 4),

		ProcessorBaseURL: getEnv("PROCESSOR_BASE_URL", "http://localhost:9090"),
		ProcessorAPIKey:  getEnv("PROCESSOR_API_KEY", ""),
		ProcessorTimeout: getEnvDuration("PROCESSOR_TIMEOUT", 10*time.Second),
		WebhookSecret:    getEnv("PROCESSOR_WEBHOOK_SECRET", ""),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTAudience: getEnv("JWT_AUDIENCE", "linkledger"),
		CORSOrigins: getEnvList("CORS_ORIGINS", "*"),

		KafkaBrokers:   getEnvList("KAFKA_BROKERS", "localhost:9092"),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "ledger.events"),
		RelayInterval:  getEnvDuration("RELAY_INTERVAL", time.Second),
		RelayBatchSize: getEnvInt("RELAY_BATCH_SIZE", 100),
	}

	if cfg.FeeBasisPoints < 0 || cfg.FeeBasisPoints > 10000 {
		return nil, fmt.Errorf("FEE_BASIS_POINTS must be between 0 and 10000, got %d", cfg.FeeBasisPoints)
	}
	if cfg.FeeFixedAmount < 0 {
		return nil, fmt.Errorf("FEE_FIXED_AMOUNT must not be negative, got %d", cfg.FeeFixedAmount)
	}
	if len(cfg.Currencies) == 0 {
		return nil, fmt.Errorf("SUPPORTED_CURRENCIES must list at least one currency")
	}
	for i, c := range cfg.Currencies {
		cfg.Currencies[i] = strings.ToLower(c)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// getEnvList splits a comma-separated value, trimming blanks.
func getEnvList(key, fallback string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		v = fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
