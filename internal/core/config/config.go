package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Driver  string
	Topic   string
	Brokers string
	GroupID string
}

type PublishCfg struct {
	Enabled bool
	Topic   string
	Brokers string
}

type Config struct {
	Addr           string
	LogLevel       string
	LogConsole     bool
	LogSampleN     int
	STACURL        string
	STACSignURL    string
	STACRPS        float64
	STACBurst      int
	FetchCacheSize int
	NominatimURL   string
	UserAgent      string
	RedisAddr      string
	ResultTTL      time.Duration
	CacheOpTimeout time.Duration
	RunTimeout     time.Duration
	AssetMaxBytes  int64
	H3Res          int
	MemoSize       int
	Workers        int
	MetricsEnabled bool
	MetricsAddr    string
	MetricsPath    string
	Invalidation   InvalidationCfg
	Publish        PublishCfg
	Analysis       Analysis
}

func FromEnv() Config {
	res := getint("H3_RES", 7)
	if res < 0 || res > 15 {
		res = 7
	}
	workers := getint("WORKERS", 2)
	if workers < 1 {
		workers = 1
	}

	return Config{
		Addr:           getenv("ADDR", ":8090"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogConsole:     getbool("LOG_CONSOLE", false),
		LogSampleN:     getint("LOG_SAMPLE_N", 0),
		STACURL:        getenv("STAC_URL", "https://planetarycomputer.microsoft.com/api/stac/v1"),
		STACSignURL:    getenv("STAC_SIGN_URL", "https://planetarycomputer.microsoft.com/api/sas/v1/sign"),
		STACRPS:        getfloat("STAC_RPS", 4),
		STACBurst:      getint("STAC_BURST", 4),
		FetchCacheSize: getint("FETCH_CACHE_SIZE", 32),
		NominatimURL:   getenv("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		UserAgent:      getenv("USER_AGENT", "lake_ndvi_analyzer"),
		RedisAddr:      getenv("REDIS_ADDR", ""),
		ResultTTL:      getduration("RESULT_TTL", 24*time.Hour),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		RunTimeout:     getduration("RUN_TIMEOUT", 9*time.Minute),
		AssetMaxBytes:  int64(getint("STAC_ASSET_MAX_MB", 512)) << 20,
		H3Res:          res,
		MemoSize:       getint("MEMO_SIZE", 64),
		Workers:        workers,
		MetricsEnabled: getbool("METRICS_ENABLED", false),
		MetricsAddr:    getenv("METRICS_ADDR", ":9090"),
		MetricsPath:    getenv("METRICS_PATH", "/metrics"),
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Driver:  getenv("INVALIDATION_DRIVER", "none"),
			Topic:   getenv("KAFKA_TOPIC", "scene-ingest"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "ndvi-result-invalidator"),
		},
		Publish: PublishCfg{
			Enabled: getbool("PUBLISH_ENABLED", false),
			Topic:   getenv("PUBLISH_TOPIC", "ndvi-trends"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
		},
		Analysis: AnalysisFromEnv(DefaultAnalysis()),
	}
}

// AnalysisFromEnv overlays NDVI_* variables on def. Unparseable values keep the default.
func AnalysisFromEnv(def Analysis) Analysis {
	a := def
	if v := os.Getenv("NDVI_BREAKPOINTS"); v != "" {
		if bp, err := ParseBreakpoints(v); err == nil {
			a.Rings.Breakpoints = bp
		}
	}
	a.Rings.InnerDisk = getbool("NDVI_INNER_DISK", a.Rings.InnerDisk)
	a.Rings.Segments = getint("NDVI_RING_SEGMENTS", a.Rings.Segments)
	if v := os.Getenv("NDVI_DRY_MONTHS"); v != "" {
		if m, err := ParseMonths(v); err == nil {
			a.Seasons.Dry = m
		}
	}
	if v := os.Getenv("NDVI_MONSOON_MONTHS"); v != "" {
		if m, err := ParseMonths(v); err == nil {
			a.Seasons.Monsoon = m
		}
	}
	a.Aggregate.MinPixels = getint("NDVI_MIN_PIXELS", a.Aggregate.MinPixels)
	a.Trend.MinSamples = getint("NDVI_MIN_SAMPLES", a.Trend.MinSamples)
	if v := os.Getenv("NDVI_TIME_UNIT"); v != "" {
		a.Trend.Unit = TimeUnit(strings.ToLower(strings.TrimSpace(v)))
	}
	a.Fetch.Collection = getenv("NDVI_COLLECTION", a.Fetch.Collection)
	a.Fetch.MaxCloudCover = getfloat("NDVI_MAX_CLOUD", a.Fetch.MaxCloudCover)
	a.Fetch.Start = getdate("NDVI_START", a.Fetch.Start)
	a.Fetch.End = getdate("NDVI_END", a.Fetch.End)
	return a
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

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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

func getdate(k string, def time.Time) time.Time {
	if v := os.Getenv(k); v != "" {
		if d, err := ParseDate(v); err == nil {
			return d
		}
	}
	return def
}
