package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/climate-feature-etl/internal/domain"
)

// History source kinds.
const (
	HistoryCSV    = "csv"
	HistorySheets = "sheets"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// History source configuration.
	HistorySource   string
	HistoryCSVPath  string
	HistoryCacheTTL time.Duration // 0 disables caching

	// Google Sheets configuration, used when HistorySource is "sheets".
	SheetsSpreadsheetID   string
	SheetsRange           string
	SheetsCredentialsFile string
	SheetsTimeout         time.Duration
	SheetsAppendCurrent   bool

	// SnapshotSchedule is a cron expression; empty disables snapshots.
	SnapshotSchedule string

	FeaturesFile string
	Pipeline     domain.PipelineConfig
}

// Load reads configuration from environment variables, applying defaults where unset.
// A .env file (ENV_FILE, default ".env") is read first if present; variables
// already set in the environment win.
func Load() (*Config, error) {
	if err := loadDotEnv(sharedcfg.EnvOrDefault("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	cacheTTL, err := parseDuration("HISTORY_CACHE_TTL", "5m", true)
	if err != nil {
		return nil, err
	}

	sheetsTimeout, err := parseDuration("SHEETS_TIMEOUT", "10s", false)
	if err != nil {
		return nil, err
	}

	appendCurrent, err := parseBool("SHEETS_APPEND_CURRENT", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "climate-observations"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "climate-feature-vectors"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "climate-feature-etl"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		HistorySource:   sharedcfg.EnvOrDefault("HISTORY_SOURCE", HistoryCSV),
		HistoryCSVPath:  sharedcfg.EnvOrDefault("HISTORY_CSV_PATH", "data/history.csv"),
		HistoryCacheTTL: cacheTTL,

		SheetsSpreadsheetID:   os.Getenv("SHEETS_SPREADSHEET_ID"),
		SheetsRange:           sharedcfg.EnvOrDefault("SHEETS_RANGE", "Sheet1!A:E"),
		SheetsCredentialsFile: os.Getenv("SHEETS_CREDENTIALS_FILE"),
		SheetsTimeout:         sheetsTimeout,
		SheetsAppendCurrent:   appendCurrent,

		SnapshotSchedule: os.Getenv("SNAPSHOT_SCHEDULE"),
		FeaturesFile:     os.Getenv("FEATURES_FILE"),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}

	switch cfg.HistorySource {
	case HistoryCSV:
		if cfg.HistoryCSVPath == "" {
			return nil, errors.New("HISTORY_CSV_PATH is required when HISTORY_SOURCE is csv")
		}
		if cfg.SheetsAppendCurrent {
			return nil, errors.New("SHEETS_APPEND_CURRENT requires HISTORY_SOURCE=sheets")
		}
	case HistorySheets:
		if cfg.SheetsSpreadsheetID == "" {
			return nil, errors.New("SHEETS_SPREADSHEET_ID is required when HISTORY_SOURCE is sheets")
		}
		if cfg.SheetsCredentialsFile == "" {
			return nil, errors.New("SHEETS_CREDENTIALS_FILE is required when HISTORY_SOURCE is sheets")
		}
	default:
		return nil, fmt.Errorf("invalid HISTORY_SOURCE %q: want csv or sheets", cfg.HistorySource)
	}

	cfg.Pipeline, err = LoadFeatures(cfg.FeaturesFile)
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("FEATURE_COMPLETENESS"); v != "" {
		c, err := parseCompleteness(v)
		if err != nil {
			return nil, fmt.Errorf("invalid FEATURE_COMPLETENESS: %w", err)
		}
		cfg.Pipeline.Completeness = c
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func parseDuration(key, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: %s is not positive", key, d)
	}
	return d, nil
}

func parseBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
