// Package config loads the store's tunables from environment variables
// (prefixed TRIADB_), with an optional YAML file overlay for settings
// that are awkward to express as a single env var (retry policy,
// per-axis planner weights).
//
// Environment Variables:
//
//   - TRIADB_DIMENSIONS=1536
//   - TRIADB_DATA_DIR="./data"
//   - TRIADB_HNSW_M=16
//   - TRIADB_HNSW_M0=32
//   - TRIADB_HNSW_EF_CONSTRUCTION=200
//   - TRIADB_HNSW_EF_SEARCH=50
//   - TRIADB_HNSW_METRIC="cosine"
//   - TRIADB_PLANNER_ALPHA=0.7
//   - TRIADB_PLANNER_BETA=0.2
//   - TRIADB_PLANNER_GAMMA=0.1
//   - TRIADB_TXN_TIMEOUT=0 (0 means no deadline)
//   - TRIADB_RETRY_BASE_DELAY=100ms
//   - TRIADB_RETRY_MAX_ATTEMPTS=5
//   - TRIADB_HIGH_VOLUME_BATCH_SIZE=1000
//   - TRIADB_HIGH_VOLUME_FLUSH_INTERVAL=100ms
//   - TRIADB_CACHE_ENABLED=true
//   - TRIADB_CACHE_MAX_SIZE=1000
//   - TRIADB_CACHE_TTL=30s
//
// A YAML file at the path named by TRIADB_CONFIG_FILE (if set) is loaded
// after the env defaults and overlaid on top of them field-by-field, the
// way the teacher lineage's apoc config layers YAML over its own env
// defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of a store instance, organized by the
// component it governs.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	HNSW       HNSWConfig       `yaml:"hnsw"`
	Planner    PlannerConfig    `yaml:"planner"`
	Transaction TransactionConfig `yaml:"transaction"`
	Retry      RetryConfig      `yaml:"retry"`
	HighVolume HighVolumeConfig `yaml:"high_volume"`
	Cache      CacheConfig      `yaml:"cache"`
}

// StorageConfig controls dimensionality and the on-disk layout root.
type StorageConfig struct {
	Dimensions int    `yaml:"dimensions"`
	DataDir    string `yaml:"data_dir"`
}

// HNSWConfig mirrors hnsw.Config's fields for env/YAML loading.
type HNSWConfig struct {
	M              int     `yaml:"m"`
	M0             int     `yaml:"m0"`
	EfConstruction int     `yaml:"ef_construction"`
	EfSearch       int     `yaml:"ef_search"`
	Metric         string  `yaml:"metric"`
}

// PlannerConfig holds the default score weights spec.md §4.4 names.
type PlannerConfig struct {
	Alpha float64 `yaml:"alpha"`
	Beta  float64 `yaml:"beta"`
	Gamma float64 `yaml:"gamma"`
}

// TransactionConfig controls the default transaction deadline.
type TransactionConfig struct {
	Timeout time.Duration `yaml:"timeout"` // 0 means no deadline
}

// RetryConfig mirrors storageadapter.RetryPolicy for env/YAML loading.
type RetryConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	Factor      float64       `yaml:"factor"`
	Jitter      float64       `yaml:"jitter"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// HighVolumeConfig controls the write-behind batching threshold described
// in spec.md §5's "high-volume mode".
type HighVolumeConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// CacheConfig controls the Search result cache that sits in front of the
// planner, per spec.md §5's read-path caching guidance.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

// Default returns the spec-mandated defaults: M=16, M0=32,
// EfConstruction=200, EfSearch=50, cosine metric, weights 0.7/0.2/0.1, no
// transaction deadline, retry base 100ms factor 2 jitter 20% 5 attempts,
// high-volume batch 1000 / 100ms, search cache enabled at 1000 entries / 30s.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Dimensions: 0,
			DataDir:    "./data",
		},
		HNSW: HNSWConfig{
			M:              16,
			M0:             32,
			EfConstruction: 200,
			EfSearch:       50,
			Metric:         "cosine",
		},
		Planner: PlannerConfig{
			Alpha: 0.7,
			Beta:  0.2,
			Gamma: 0.1,
		},
		Transaction: TransactionConfig{
			Timeout: 0,
		},
		Retry: RetryConfig{
			BaseDelay:   100 * time.Millisecond,
			Factor:      2,
			Jitter:      0.2,
			MaxAttempts: 5,
		},
		HighVolume: HighVolumeConfig{
			BatchSize:     1000,
			FlushInterval: 100 * time.Millisecond,
		},
		Cache: CacheConfig{
			Enabled: true,
			MaxSize: 1000,
			TTL:     30 * time.Second,
		},
	}
}

// LoadFromEnv returns Default() overlaid with any TRIADB_* environment
// variables present, and further overlaid by the YAML file named by
// TRIADB_CONFIG_FILE if that variable is set.
func LoadFromEnv() (*Config, error) {
	cfg := Default()

	cfg.Storage.Dimensions = getEnvInt("TRIADB_DIMENSIONS", cfg.Storage.Dimensions)
	cfg.Storage.DataDir = getEnv("TRIADB_DATA_DIR", cfg.Storage.DataDir)

	cfg.HNSW.M = getEnvInt("TRIADB_HNSW_M", cfg.HNSW.M)
	cfg.HNSW.M0 = getEnvInt("TRIADB_HNSW_M0", cfg.HNSW.M0)
	cfg.HNSW.EfConstruction = getEnvInt("TRIADB_HNSW_EF_CONSTRUCTION", cfg.HNSW.EfConstruction)
	cfg.HNSW.EfSearch = getEnvInt("TRIADB_HNSW_EF_SEARCH", cfg.HNSW.EfSearch)
	cfg.HNSW.Metric = getEnv("TRIADB_HNSW_METRIC", cfg.HNSW.Metric)

	cfg.Planner.Alpha = getEnvFloat("TRIADB_PLANNER_ALPHA", cfg.Planner.Alpha)
	cfg.Planner.Beta = getEnvFloat("TRIADB_PLANNER_BETA", cfg.Planner.Beta)
	cfg.Planner.Gamma = getEnvFloat("TRIADB_PLANNER_GAMMA", cfg.Planner.Gamma)

	cfg.Transaction.Timeout = getEnvDuration("TRIADB_TXN_TIMEOUT", cfg.Transaction.Timeout)

	cfg.Retry.BaseDelay = getEnvDuration("TRIADB_RETRY_BASE_DELAY", cfg.Retry.BaseDelay)
	cfg.Retry.Factor = getEnvFloat("TRIADB_RETRY_FACTOR", cfg.Retry.Factor)
	cfg.Retry.Jitter = getEnvFloat("TRIADB_RETRY_JITTER", cfg.Retry.Jitter)
	cfg.Retry.MaxAttempts = getEnvInt("TRIADB_RETRY_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)

	cfg.HighVolume.BatchSize = getEnvInt("TRIADB_HIGH_VOLUME_BATCH_SIZE", cfg.HighVolume.BatchSize)
	cfg.HighVolume.FlushInterval = getEnvDuration("TRIADB_HIGH_VOLUME_FLUSH_INTERVAL", cfg.HighVolume.FlushInterval)

	cfg.Cache.Enabled = getEnvBool("TRIADB_CACHE_ENABLED", cfg.Cache.Enabled)
	cfg.Cache.MaxSize = getEnvInt("TRIADB_CACHE_MAX_SIZE", cfg.Cache.MaxSize)
	cfg.Cache.TTL = getEnvDuration("TRIADB_CACHE_TTL", cfg.Cache.TTL)

	if path := os.Getenv("TRIADB_CONFIG_FILE"); path != "" {
		if err := overlayYAML(cfg, path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func overlayYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// Validate reports a non-nil error if cfg's values could not produce a
// working store (negative dimensions, an HNSW degree of zero, negative
// weights, and so on).
func (c *Config) Validate() error {
	if c.Storage.Dimensions <= 0 {
		return fmt.Errorf("config: storage.dimensions must be positive, got %d", c.Storage.Dimensions)
	}
	if c.HNSW.M <= 0 || c.HNSW.M0 <= 0 {
		return fmt.Errorf("config: hnsw.m and hnsw.m0 must be positive")
	}
	if c.HNSW.EfConstruction <= 0 || c.HNSW.EfSearch <= 0 {
		return fmt.Errorf("config: hnsw.ef_construction and hnsw.ef_search must be positive")
	}
	switch c.HNSW.Metric {
	case "cosine", "euclidean", "dot":
	default:
		return fmt.Errorf("config: hnsw.metric %q not one of cosine/euclidean/dot", c.HNSW.Metric)
	}
	if c.Planner.Alpha < 0 || c.Planner.Beta < 0 || c.Planner.Gamma < 0 {
		return fmt.Errorf("config: planner weights must be non-negative")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("config: retry.max_attempts must be positive")
	}
	if c.HighVolume.BatchSize <= 0 {
		return fmt.Errorf("config: high_volume.batch_size must be positive")
	}
	if c.Cache.Enabled && c.Cache.MaxSize <= 0 {
		return fmt.Errorf("config: cache.max_size must be positive when cache.enabled")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
