package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig captures all tunable parameters for the API process.
// Values are loaded from environment variables with defaults that let the binary run locally
// with in-memory stores and no external services.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisPrefix   string

	KafkaBrokers       []string
	KafkaLocationTopic string
	KafkaOrderTopic    string

	PGDSN         string
	RunMigrations bool

	BotToken string

	BaseFare         float64
	PerKmRate        float64
	MinimumFare      float64
	DeliveryBaseFare float64
	Traffic          string

	NotificationTimeout      time.Duration
	NotificationSendTimeout  time.Duration
	NotificationSendAttempts int
	DriverSearchTimeout      time.Duration
	DispatchMaxCandidates    int
	DispatchLockTTL          time.Duration
	StaleSearchGrace         time.Duration
	SweepSchedule            string

	MaxRequestsPerMinute int
	MaxRequestsPerHour   int
	RateLimitCleanup     string

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,

		RedisPrefix: "taxi",

		KafkaLocationTopic: "driver-locations",
		KafkaOrderTopic:    "order-events",

		BaseFare:         100,
		PerKmRate:        15,
		MinimumFare:      50,
		DeliveryBaseFare: 80,
		Traffic:          "normal",

		NotificationTimeout:      30 * time.Second,
		NotificationSendTimeout:  5 * time.Second,
		NotificationSendAttempts: 2,
		DriverSearchTimeout:      120 * time.Second,
		StaleSearchGrace:         time.Minute,
		SweepSchedule:            "@every 1m",

		MaxRequestsPerMinute: 30,
		MaxRequestsPerHour:   300,
		RateLimitCleanup:     "@every 10m",

		LogLevel: "info",
	}
}

// LoadDotEnv loads a .env file into the environment when one exists. Variables already set win.
func LoadDotEnv(paths ...string) error {
	err := godotenv.Load(paths...)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
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
	setStringFromEnv(&cfg.RedisPrefix, "REDIS_PREFIX")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaLocationTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaOrderTopic, "KAFKA_ORDER_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	cfg.BotToken = strings.TrimSpace(os.Getenv("BOT_TOKEN"))

	setFloatFromEnv(&cfg.BaseFare, "BASE_FARE", &errs)
	setFloatFromEnv(&cfg.PerKmRate, "PER_KM_RATE", &errs)
	setFloatFromEnv(&cfg.MinimumFare, "MINIMUM_FARE", &errs)
	setFloatFromEnv(&cfg.DeliveryBaseFare, "DELIVERY_BASE_FARE", &errs)
	setStringFromEnv(&cfg.Traffic, "TRAFFIC")

	setDurationFromEnv(&cfg.NotificationTimeout, "NOTIFICATION_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.NotificationSendTimeout, "NOTIFICATION_SEND_TIMEOUT", &errs)
	setIntFromEnv(&cfg.NotificationSendAttempts, "NOTIFICATION_SEND_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.DriverSearchTimeout, "DRIVER_SEARCH_TIMEOUT", &errs)
	setIntFromEnv(&cfg.DispatchMaxCandidates, "DISPATCH_MAX_CANDIDATES", &errs)
	setDurationFromEnv(&cfg.DispatchLockTTL, "DISPATCH_LOCK_TTL", &errs)
	setDurationFromEnv(&cfg.StaleSearchGrace, "STALE_SEARCH_GRACE", &errs)
	setStringFromEnv(&cfg.SweepSchedule, "SWEEP_SCHEDULE")

	setIntFromEnv(&cfg.MaxRequestsPerMinute, "MAX_REQUESTS_PER_MINUTE", &errs)
	setIntFromEnv(&cfg.MaxRequestsPerHour, "MAX_REQUESTS_PER_HOUR", &errs)
	setStringFromEnv(&cfg.RateLimitCleanup, "RATE_LIMIT_CLEANUP")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.DispatchLockTTL == 0 {
		cfg.DispatchLockTTL = cfg.DriverSearchTimeout + cfg.NotificationTimeout
	}
	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	for key, v := range map[string]float64{
		"BASE_FARE":          c.BaseFare,
		"PER_KM_RATE":        c.PerKmRate,
		"MINIMUM_FARE":       c.MinimumFare,
		"DELIVERY_BASE_FARE": c.DeliveryBaseFare,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", key))
		}
	}
	if c.MinimumFare != math.Trunc(c.MinimumFare) {
		errs = append(errs, fmt.Errorf("MINIMUM_FARE must be a whole amount"))
	}
	if c.NotificationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("NOTIFICATION_TIMEOUT must be > 0"))
	}
	if c.NotificationSendTimeout <= 0 || c.NotificationSendTimeout >= c.NotificationTimeout {
		errs = append(errs, fmt.Errorf("NOTIFICATION_SEND_TIMEOUT must be > 0 and shorter than NOTIFICATION_TIMEOUT"))
	}
	if c.NotificationSendAttempts <= 0 {
		errs = append(errs, fmt.Errorf("NOTIFICATION_SEND_ATTEMPTS must be > 0"))
	}
	if c.DriverSearchTimeout < c.NotificationTimeout {
		errs = append(errs, fmt.Errorf("DRIVER_SEARCH_TIMEOUT must be at least NOTIFICATION_TIMEOUT"))
	}
	if c.DispatchMaxCandidates < 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_CANDIDATES must be >= 0"))
	}
	if c.DispatchLockTTL < c.DriverSearchTimeout {
		errs = append(errs, fmt.Errorf("DISPATCH_LOCK_TTL must cover DRIVER_SEARCH_TIMEOUT"))
	}
	if c.MaxRequestsPerMinute < 0 || c.MaxRequestsPerHour < 0 {
		errs = append(errs, fmt.Errorf("request limits must be >= 0"))
	}
	switch c.Traffic {
	case "good", "normal", "bad":
	default:
		errs = append(errs, fmt.Errorf("TRAFFIC must be good, normal or bad"))
	}
	return errs
}

// ConsumerConfig configures the Kafka consumer that applies driver location reports.
type ConsumerConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	PGDSN       string
	MetricsAddr string

	UpdateAttempts int
	RetryDelay     time.Duration

	LogLevel string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		KafkaBrokers:   []string{"localhost:9092"},
		KafkaTopic:     "driver-locations",
		KafkaGroup:     "taxi-dispatch-consumer",
		MetricsAddr:    ":2112",
		UpdateAttempts: 3,
		RetryDelay:     200 * time.Millisecond,
		LogLevel:       "info",
	}
	var errs []error

	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKER")
	}
	if brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	cfg.PGDSN = os.Getenv("PG_DSN")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setIntFromEnv(&cfg.UpdateAttempts, "UPDATE_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.RetryDelay, "UPDATE_RETRY_DELAY", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.PGDSN == "" {
		errs = append(errs, fmt.Errorf("PG_DSN is required"))
	}
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS is required"))
	}
	if cfg.UpdateAttempts <= 0 {
		errs = append(errs, fmt.Errorf("UPDATE_ATTEMPTS must be > 0"))
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
