// Package config provides configuration management for the decisioning
// engine.
//
// Configuration is loaded from environment variables (optionally backed by
// a .env file) and validated once at startup. It carries the tenant-default
// tunables for gating, calibration, drift monitoring, and export; per-tenant
// overrides live in the Store (see internal/domain.Tenant) and take
// precedence over these defaults at the call site.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the engine's process-wide tunables.
type Config struct {
	DataDir  string // base directory for the ledger/cache SQLite files
	LogLevel string // debug, info, warn, error
	DevMode  bool

	// Tenants the process schedules periodic work for. spec.md's Store has
	// no list-tenants query (entities are already tenant-scoped by every
	// call site), so the set a single deployment serves is named here
	// rather than discovered.
	TenantIDs []string // default ["default"]

	// GatingPolicy (spec.md §4.8)
	DefaultThreshold        float64 // calibrated_p threshold for auto-post, default 0.90
	ColdStartMin            int     // minimum consistent confirmations, default 3
	AnomalyMADMultiplier    float64 // k in median ± k·MAD, default 6
	AnomalyBlocksAutopost   bool    // default true
	AutopostEnabledDefault  bool    // default false
	DateToleranceDays       int     // Reconciler heuristic window, default 3

	// Ingestion (spec.md §4.1)
	IngestMaxBytes int64 // oversize-input cap, default 25MB

	// LLMAdjudicator (spec.md §4.6)
	UncertainBandLow  float64       // default 0.60
	UncertainBandHigh float64       // default 0.85
	LLMDeadline       time.Duration // default 10s
	LLMDailyBudget    int           // calls/day, tenant + global
	LLMGlobalBudget   int

	// EmbeddingMemory (spec.md §4.4)
	EmbeddingTopK      int     // default 5
	EmbeddingSimFloor  float64 // default 0.75

	// AdaptiveRulePromoter (spec.md §4.11)
	PromoterMinObs               int     // default 3
	PromoterMinConf              float64 // default 0.85
	PromoterMaxVar               float64 // default 0.08
	PromoterDryRunFlagThreshold  float64 // default 0.005 (0.5%)

	// DriftMonitor / Retrainer (spec.md §4.12)
	PSIWarn             float64       // default 0.10
	PSIAlert            float64       // default 0.25
	AccDropPct          float64       // default 0.03 (3pp)
	MinNewRecords       int           // default 1000
	MinDaysSinceTrain   int           // default 7
	RetrainMinRecords   int           // default 2000
	RetrainMaxRuntime   time.Duration // default 900s
	RetrainHoldoutDays  int           // default 30
	DriftCheckCron      string        // default "*/15 * * * *"
	RetrainSweepCron    string        // default "0 */6 * * *"
	MinFreeMemoryMB     int           // resource guardrail floor, default 512

	// Exporter (spec.md §4.13)
	ExportTarget string // ledger system exported JEs are addressed against, default "csv"
}

// Load reads configuration from environment variables, applying a .env file
// first if one is present. Unset variables fall back to domain defaults
// taken directly from spec.md.
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("LEDGER_DATA_DIR", "")
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	}
	if dataDir == "" {
		dataDir = "./data"
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  dataDir,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		DevMode:   getEnvAsBool("DEV_MODE", false),
		TenantIDs: getEnvAsList("TENANT_IDS", []string{"default"}),

		DefaultThreshold:       getEnvAsFloat("GATE_DEFAULT_THRESHOLD", 0.90),
		ColdStartMin:           getEnvAsInt("GATE_COLD_START_MIN", 3),
		AnomalyMADMultiplier:   getEnvAsFloat("GATE_ANOMALY_MAD_K", 6),
		AnomalyBlocksAutopost:  getEnvAsBool("GATE_ANOMALY_BLOCKS_AUTOPOST", true),
		AutopostEnabledDefault: getEnvAsBool("GATE_AUTOPOST_ENABLED_DEFAULT", false),
		DateToleranceDays:      getEnvAsInt("RECONCILER_DATE_TOLERANCE_DAYS", 3),
		IngestMaxBytes:         int64(getEnvAsInt("INGEST_MAX_BYTES", 25*1024*1024)),

		UncertainBandLow:  getEnvAsFloat("LLM_UNCERTAIN_BAND_LOW", 0.60),
		UncertainBandHigh: getEnvAsFloat("LLM_UNCERTAIN_BAND_HIGH", 0.85),
		LLMDeadline:       time.Duration(getEnvAsInt("LLM_DEADLINE_SECONDS", 10)) * time.Second,
		LLMDailyBudget:    getEnvAsInt("LLM_TENANT_DAILY_BUDGET", 500),
		LLMGlobalBudget:   getEnvAsInt("LLM_GLOBAL_DAILY_BUDGET", 5000),

		EmbeddingTopK:     getEnvAsInt("EMBEDDING_TOP_K", 5),
		EmbeddingSimFloor: getEnvAsFloat("EMBEDDING_SIM_FLOOR", 0.75),

		PromoterMinObs:              getEnvAsInt("PROMOTER_MIN_OBS", 3),
		PromoterMinConf:             getEnvAsFloat("PROMOTER_MIN_CONF", 0.85),
		PromoterMaxVar:              getEnvAsFloat("PROMOTER_MAX_VAR", 0.08),
		PromoterDryRunFlagThreshold: getEnvAsFloat("PROMOTER_DRY_RUN_FLAG_THRESHOLD", 0.005),

		PSIWarn:            getEnvAsFloat("DRIFT_PSI_WARN", 0.10),
		PSIAlert:           getEnvAsFloat("DRIFT_PSI_ALERT", 0.25),
		AccDropPct:         getEnvAsFloat("DRIFT_ACC_DROP_PCT", 0.03),
		MinNewRecords:      getEnvAsInt("DRIFT_MIN_NEW_RECORDS", 1000),
		MinDaysSinceTrain:  getEnvAsInt("DRIFT_MIN_DAYS_SINCE_TRAIN", 7),
		RetrainMinRecords:  getEnvAsInt("RETRAIN_MIN_RECORDS", 2000),
		RetrainMaxRuntime:  time.Duration(getEnvAsInt("RETRAIN_MAX_RUNTIME_SECONDS", 900)) * time.Second,
		RetrainHoldoutDays: getEnvAsInt("RETRAIN_HOLDOUT_DAYS", 30),
		DriftCheckCron:     getEnv("DRIFT_CHECK_CRON", "*/15 * * * *"),
		RetrainSweepCron:   getEnv("RETRAIN_SWEEP_CRON", "0 */6 * * *"),
		MinFreeMemoryMB:    getEnvAsInt("RETRAIN_MIN_FREE_MEMORY_MB", 512),

		ExportTarget: getEnv("EXPORT_TARGET", "csv"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the loaded configuration is internally consistent,
// aggregating every violation into a single error.
func (c *Config) Validate() error {
	var errs []string

	if c.DefaultThreshold <= 0 || c.DefaultThreshold > 1 {
		errs = append(errs, "GATE_DEFAULT_THRESHOLD must be in (0,1]")
	}
	if c.ColdStartMin < 1 {
		errs = append(errs, "GATE_COLD_START_MIN must be >= 1")
	}
	if c.UncertainBandLow >= c.UncertainBandHigh {
		errs = append(errs, "LLM_UNCERTAIN_BAND_LOW must be < LLM_UNCERTAIN_BAND_HIGH")
	}
	if c.EmbeddingTopK < 1 {
		errs = append(errs, "EMBEDDING_TOP_K must be >= 1")
	}
	if c.PSIWarn <= 0 || c.PSIAlert <= c.PSIWarn {
		errs = append(errs, "DRIFT_PSI_ALERT must be > DRIFT_PSI_WARN > 0")
	}
	if c.RetrainMaxRuntime <= 0 {
		errs = append(errs, "RETRAIN_MAX_RUNTIME_SECONDS must be > 0")
	}

	if len(errs) > 0 {
		msg := errs[0]
		for _, e := range errs[1:] {
			msg += "; " + e
		}
		return fmt.Errorf("invalid configuration: %s", msg)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
