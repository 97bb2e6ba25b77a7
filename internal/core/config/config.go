package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	CatalogStatic = "static"
	CatalogRedis  = "redis"
)

type LayerUpdatesCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr               string
	LogLevel           string
	LogConsole         bool
	LogSampleN         int
	DataDir            string
	CatalogDriver      string
	CatalogFile        string
	RedisAddr          string
	CatalogRedisKey    string
	FilterMaxWorkers   int
	FilterTimeout      time.Duration
	ConversionMemoSize int
	DatasetCacheSize   int
	LayerUpdates       LayerUpdatesCfg
	Metrics            MetricsCfg
}

func FromEnv() Config {
	return Config{
		Addr:               getenv("ADDR", ":8090"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		LogConsole:         getbool("LOG_CONSOLE", false),
		LogSampleN:         getint("LOG_SAMPLE_N", 0),
		DataDir:            getenv("DATA_DIR", "data"),
		CatalogDriver:      strings.ToLower(getenv("CATALOG_DRIVER", CatalogStatic)),
		CatalogFile:        getenv("CATALOG_FILE", ""),
		RedisAddr:          getenv("REDIS_ADDR", "localhost:6379"),
		CatalogRedisKey:    getenv("CATALOG_REDIS_KEY", "filter-templates"),
		FilterMaxWorkers:   getint("FILTER_MAX_WORKERS", 8),
		FilterTimeout:      getduration("FILTER_TIMEOUT", 30*time.Second),
		ConversionMemoSize: getint("CONVERSION_MEMO_SIZE", 4096),
		DatasetCacheSize:   getint("DATASET_CACHE_SIZE", 64),
		LayerUpdates: LayerUpdatesCfg{
			Enabled: getbool("LAYER_UPDATES_ENABLED", false),
			Brokers: splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getenv("KAFKA_TOPIC", "layer-updates"),
			GroupID: getenv("KAFKA_GROUP_ID", "map-search"),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9090"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

// Validate reports settings the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.CatalogDriver {
	case CatalogStatic, CatalogRedis:
	default:
		errs = append(errs, fmt.Errorf("CATALOG_DRIVER must be %s|%s, got %q", CatalogStatic, CatalogRedis, c.CatalogDriver))
	}
	if c.CatalogDriver == CatalogRedis && c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required for the redis catalog"))
	}
	if c.FilterMaxWorkers <= 0 {
		errs = append(errs, errors.New("FILTER_MAX_WORKERS must be positive"))
	}
	if c.FilterTimeout <= 0 {
		errs = append(errs, errors.New("FILTER_TIMEOUT must be positive"))
	}
	if c.LayerUpdates.Enabled && len(c.LayerUpdates.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when LAYER_UPDATES_ENABLED"))
	}
	return errors.Join(errs...)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
