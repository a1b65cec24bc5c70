package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`

	SyncPollInterval  time.Duration `env:"SYNC_POLL_INTERVAL" envDefault:"5s"`
	SyncBatchSize     int           `env:"SYNC_BATCH_SIZE" envDefault:"20"`
	SyncConcurrency   int           `env:"SYNC_CONCURRENCY" envDefault:"4"`
	SyncLease         time.Duration `env:"SYNC_LEASE" envDefault:"10m"`
	SyncRetryDelay    time.Duration `env:"SYNC_RETRY_DELAY" envDefault:"1m"`
	SyncMaxAttempts   int           `env:"SYNC_MAX_ATTEMPTS" envDefault:"5"`
	AutoMatchSchedule string        `env:"AUTO_MATCH_SCHEDULE" envDefault:"@every 15m"`
	AutoMatchWorkers  int           `env:"AUTO_MATCH_WORKERS" envDefault:"4"`

	// IngestSecret signs POST /sync-batches. The route is disabled when empty.
	IngestSecret string `env:"INGEST_SECRET"`
	// OpsToken is the bearer token of the transfer routes. They are disabled
	// when empty.
	OpsToken string `env:"OPS_TOKEN"`

	Matching Matching `envPrefix:"MATCH_"`
}

// Matching holds the heuristic thresholds of the reconcilers.
type Matching struct {
	PendingExactWindowDays  int     `env:"PENDING_EXACT_WINDOW_DAYS" envDefault:"8"`
	PendingFuzzyWindowDays  int     `env:"PENDING_FUZZY_WINDOW_DAYS" envDefault:"3"`
	FuzzyMediumTolerance    float64 `env:"FUZZY_MEDIUM_TOLERANCE" envDefault:"0.30"`
	FuzzyLowTolerance       float64 `env:"FUZZY_LOW_TOLERANCE" envDefault:"1.00"`
	NameSimilarityThreshold float64 `env:"NAME_SIMILARITY_THRESHOLD" envDefault:"0.80"`
	TransferDateWindowDays  int     `env:"TRANSFER_DATE_WINDOW_DAYS" envDefault:"4"`
	TransferFXTolerance     float64 `env:"TRANSFER_FX_TOLERANCE" envDefault:"0.10"`
}

// DefaultMatching returns the thresholds used when nothing is configured.
func DefaultMatching() Matching {
	return Matching{
		PendingExactWindowDays:  8,
		PendingFuzzyWindowDays:  3,
		FuzzyMediumTolerance:    0.30,
		FuzzyLowTolerance:       1.00,
		NameSimilarityThreshold: 0.80,
		TransferDateWindowDays:  4,
		TransferFXTolerance:     0.10,
	}
}

func (m Matching) MediumTolerance() decimal.Decimal { return decimal.NewFromFloat(m.FuzzyMediumTolerance) }
func (m Matching) LowTolerance() decimal.Decimal { return decimal.NewFromFloat(m.FuzzyLowTolerance) }
func (m Matching) FXTolerance() decimal.Decimal { return decimal.NewFromFloat(m.TransferFXTolerance) }

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config.Load: .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.Matching.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (m Matching) validate() error {
	if m.PendingExactWindowDays < 0 || m.PendingFuzzyWindowDays < 0 || m.TransferDateWindowDays < 0 {
		return errors.New("matching windows must not be negative")
	}
	if m.FuzzyMediumTolerance <= 0 || m.FuzzyLowTolerance < m.FuzzyMediumTolerance {
		return errors.New("fuzzy tolerances must satisfy 0 < medium <= low")
	}
	if m.NameSimilarityThreshold <= 0 || m.NameSimilarityThreshold > 1 {
		return errors.New("name similarity threshold must be in (0, 1]")
	}
	if m.TransferFXTolerance < 0 {
		return errors.New("transfer fx tolerance must not be negative")
	}
	return nil
}
