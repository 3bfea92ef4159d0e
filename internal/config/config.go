package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	BridgeChannel string

	KafkaBrokers    []string
	LocationsTopic  string
	RideEventsTopic string

	PGDSN string

	BaseFare    float64
	PricePerKm  float64
	PricePerMin float64
	MinimumFare float64

	RequestTTL     time.Duration
	ReaperInterval time.Duration

	PushEndpoint string
	PushKey      string
	PushWorkers  int
	DedupTTL     time.Duration

	OSRMEndpoint string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "drivers_geo",
		BridgeChannel:   "ride-dispatch:groups",
		LocationsTopic:  "driver-locations",
		RideEventsTopic: "ride-events",
		BaseFare:        5.00,
		PricePerKm:      1.50,
		PricePerMin:     0.20,
		MinimumFare:     10.00,
		RequestTTL:      10 * time.Minute,
		ReaperInterval:  time.Minute,
		PushWorkers:     4,
		DedupTTL:        2 * time.Minute,
		LogLevel:        "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setStringFromEnv(&cfg.BridgeChannel, "REDIS_BRIDGE_CHANNEL")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.LocationsTopic, "KAFKA_LOCATIONS_TOPIC")
	setStringFromEnv(&cfg.RideEventsTopic, "KAFKA_RIDE_EVENTS_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setFloatFromEnv(&cfg.BaseFare, "RIDE_BASE_FARE", &errs)
	setFloatFromEnv(&cfg.PricePerKm, "RIDE_PRICE_PER_KM", &errs)
	setFloatFromEnv(&cfg.PricePerMin, "RIDE_PRICE_PER_MINUTE", &errs)
	setFloatFromEnv(&cfg.MinimumFare, "RIDE_MINIMUM_FARE", &errs)

	setDurationFromEnv(&cfg.RequestTTL, "RIDE_REQUEST_TTL", &errs)
	setDurationFromEnv(&cfg.ReaperInterval, "REAPER_INTERVAL", &errs)

	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")
	cfg.PushKey = os.Getenv("PUSH_KEY")
	setIntFromEnv(&cfg.PushWorkers, "PUSH_WORKERS", &errs)
	setDurationFromEnv(&cfg.DedupTTL, "PUSH_DEDUP_TTL", &errs)

	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.RequestTTL <= 0 {
		errs = append(errs, fmt.Errorf("RIDE_REQUEST_TTL must be > 0"))
	}
	if cfg.ReaperInterval <= 0 {
		errs = append(errs, fmt.Errorf("REAPER_INTERVAL must be > 0"))
	}
	if cfg.PushWorkers <= 0 {
		errs = append(errs, fmt.Errorf("PUSH_WORKERS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
