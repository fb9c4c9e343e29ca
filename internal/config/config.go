// Package config centralizes all thresholds, window sizes, stream names
// and connection settings. Everything is environment-driven; a local
// .env file is honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration shared by the API, consumer
// and worker processes.
type Config struct {
	// Connections
	DatabaseURL string
	RedisURL    string
	HTTPPort    string

	// Streams
	BehaviorEventsStream string
	DriftEventsStream    string
	ConsumerGroup        string
	ConsumerName         string
	RedisBlockMS         int
	MaxEventsPerRead     int

	// Detection gates
	MinBehaviorsForDrift int
	MinDaysOfHistory     int
	ScanCooldownSeconds  int64
	DriftScoreThreshold  float64

	// Time windows (days)
	CurrentWindowDays        int
	ReferenceWindowStartDays int
	ReferenceWindowEndDays   int

	// Detector thresholds
	AbandonmentSilenceDays         int
	MinReinforcementForAbandonment int
	IntensityDeltaThreshold        float64
	EmergenceMinReinforcement      int
	EmergenceClusterMinSize        int
	RecencyWeightDays              int

	// Embedding / clustering
	EmbeddingModel             string
	EmbeddingClusterEps        float64
	EmbeddingClusterMinSamples int

	// Scheduler
	ActiveScanIntervalHours        int
	ModerateScanIntervalHours      int
	ActiveUserDaysThreshold        int
	ModerateUserDaysThreshold      int
	DeadLetterCheckIntervalMinutes int

	// Dead letter
	DeadLetterIdleThresholdMS     int64
	DeadLetterMaxDeliveryAttempts int64

	// Workers
	WorkerCount               int
	WorkerPollIntervalSeconds int
	JobSoftTimeLimitSeconds   int
	JobHardTimeLimitSeconds   int
	JobMaxRetries             int
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in first (without overriding real env vars).
// DATABASE_URL is required; everything else has a default.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = getEnv("REDIS_URL", "redis://localhost:6379/0")
	cfg.HTTPPort = getEnv("HTTP_PORT", "8080")

	cfg.BehaviorEventsStream = getEnv("BEHAVIOR_EVENTS_STREAM", cfg.BehaviorEventsStream)
	cfg.DriftEventsStream = getEnv("DRIFT_EVENTS_STREAM", cfg.DriftEventsStream)
	cfg.ConsumerGroup = getEnv("CONSUMER_GROUP", cfg.ConsumerGroup)
	cfg.ConsumerName = getEnv("CONSUMER_NAME", defaultConsumerName())
	cfg.RedisBlockMS = getInt("REDIS_BLOCK_MS", cfg.RedisBlockMS)
	cfg.MaxEventsPerRead = getInt("MAX_EVENTS_PER_READ", cfg.MaxEventsPerRead)

	cfg.MinBehaviorsForDrift = getInt("MIN_BEHAVIORS_FOR_DRIFT", cfg.MinBehaviorsForDrift)
	cfg.MinDaysOfHistory = getInt("MIN_DAYS_OF_HISTORY", cfg.MinDaysOfHistory)
	cfg.ScanCooldownSeconds = getInt64("SCAN_COOLDOWN_SECONDS", cfg.ScanCooldownSeconds)
	cfg.DriftScoreThreshold = getFloat("DRIFT_SCORE_THRESHOLD", cfg.DriftScoreThreshold)

	cfg.CurrentWindowDays = getInt("CURRENT_WINDOW_DAYS", cfg.CurrentWindowDays)
	cfg.ReferenceWindowStartDays = getInt("REFERENCE_WINDOW_START_DAYS", cfg.ReferenceWindowStartDays)
	cfg.ReferenceWindowEndDays = getInt("REFERENCE_WINDOW_END_DAYS", cfg.ReferenceWindowEndDays)

	cfg.AbandonmentSilenceDays = getInt("ABANDONMENT_SILENCE_DAYS", cfg.AbandonmentSilenceDays)
	cfg.MinReinforcementForAbandonment = getInt("MIN_REINFORCEMENT_FOR_ABANDONMENT", cfg.MinReinforcementForAbandonment)
	cfg.IntensityDeltaThreshold = getFloat("INTENSITY_DELTA_THRESHOLD", cfg.IntensityDeltaThreshold)
	cfg.EmergenceMinReinforcement = getInt("EMERGENCE_MIN_REINFORCEMENT", cfg.EmergenceMinReinforcement)
	cfg.EmergenceClusterMinSize = getInt("EMERGENCE_CLUSTER_MIN_SIZE", cfg.EmergenceClusterMinSize)
	cfg.RecencyWeightDays = getInt("RECENCY_WEIGHT_DAYS", cfg.RecencyWeightDays)

	cfg.EmbeddingModel = getEnv("EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.EmbeddingClusterEps = getFloat("EMBEDDING_CLUSTER_EPS", cfg.EmbeddingClusterEps)
	cfg.EmbeddingClusterMinSamples = getInt("EMBEDDING_CLUSTER_MIN_SAMPLES", cfg.EmbeddingClusterMinSamples)

	cfg.ActiveScanIntervalHours = getInt("ACTIVE_SCAN_INTERVAL_HOURS", cfg.ActiveScanIntervalHours)
	cfg.ModerateScanIntervalHours = getInt("MODERATE_SCAN_INTERVAL_HOURS", cfg.ModerateScanIntervalHours)
	cfg.ActiveUserDaysThreshold = getInt("ACTIVE_USER_DAYS_THRESHOLD", cfg.ActiveUserDaysThreshold)
	cfg.ModerateUserDaysThreshold = getInt("MODERATE_USER_DAYS_THRESHOLD", cfg.ModerateUserDaysThreshold)
	cfg.DeadLetterCheckIntervalMinutes = getInt("DEAD_LETTER_CHECK_INTERVAL_MINUTES", cfg.DeadLetterCheckIntervalMinutes)

	cfg.DeadLetterIdleThresholdMS = getInt64("DEAD_LETTER_IDLE_THRESHOLD_MS", cfg.DeadLetterIdleThresholdMS)
	cfg.DeadLetterMaxDeliveryAttempts = getInt64("DEAD_LETTER_MAX_DELIVERY_ATTEMPTS", cfg.DeadLetterMaxDeliveryAttempts)

	cfg.WorkerCount = getInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.WorkerPollIntervalSeconds = getInt("WORKER_POLL_INTERVAL_SECONDS", cfg.WorkerPollIntervalSeconds)
	cfg.JobSoftTimeLimitSeconds = getInt("JOB_SOFT_TIME_LIMIT_SECONDS", cfg.JobSoftTimeLimitSeconds)
	cfg.JobHardTimeLimitSeconds = getInt("JOB_HARD_TIME_LIMIT_SECONDS", cfg.JobHardTimeLimitSeconds)
	cfg.JobMaxRetries = getInt("JOB_MAX_RETRIES", cfg.JobMaxRetries)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.DriftScoreThreshold < 0 || cfg.DriftScoreThreshold > 1 {
		return nil, fmt.Errorf("DRIFT_SCORE_THRESHOLD out of range: %v", cfg.DriftScoreThreshold)
	}
	if cfg.ReferenceWindowStartDays <= cfg.ReferenceWindowEndDays {
		return nil, fmt.Errorf("reference window start (%dd ago) must predate its end (%dd ago)",
			cfg.ReferenceWindowStartDays, cfg.ReferenceWindowEndDays)
	}
	return cfg, nil
}

// Default returns a Config with every threshold at its default and no
// connection strings, for tests that exercise the pipeline directly.
func Default() *Config {
	return &Config{
		BehaviorEventsStream: "behavior.events",
		DriftEventsStream:    "drift.events",
		ConsumerGroup:        "drift-detection",
		ConsumerName:         "consumer-1",
		RedisBlockMS:         5000,
		MaxEventsPerRead:     10,

		MinBehaviorsForDrift: 5,
		MinDaysOfHistory:     14,
		ScanCooldownSeconds:  3600,
		DriftScoreThreshold:  0.3,

		CurrentWindowDays:        30,
		ReferenceWindowStartDays: 60,
		ReferenceWindowEndDays:   30,

		AbandonmentSilenceDays:         30,
		MinReinforcementForAbandonment: 2,
		IntensityDeltaThreshold:        0.25,
		EmergenceMinReinforcement:      2,
		EmergenceClusterMinSize:        3,
		RecencyWeightDays:              30,

		EmbeddingModel:             "all-MiniLM-L6-v2",
		EmbeddingClusterEps:        0.4,
		EmbeddingClusterMinSamples: 2,

		ActiveScanIntervalHours:        24,
		ModerateScanIntervalHours:      72,
		ActiveUserDaysThreshold:        7,
		ModerateUserDaysThreshold:      30,
		DeadLetterCheckIntervalMinutes: 10,

		DeadLetterIdleThresholdMS:     300000,
		DeadLetterMaxDeliveryAttempts: 3,

		WorkerCount:               4,
		WorkerPollIntervalSeconds: 5,
		JobSoftTimeLimitSeconds:   240,
		JobHardTimeLimitSeconds:   300,
		JobMaxRetries:             3,
	}
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil {
		return "consumer-1"
	}
	return "consumer-" + host
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
