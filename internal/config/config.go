package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the realtime coordinator
// process. Values are primarily loaded from environment variables with sane
// defaults so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	ResponseTimeout  time.Duration // driver accept/reject deadline
	RequestTimeout   time.Duration // overall matching deadline per ride
	CancelWindow     time.Duration // post-accept free cancellation window
	OTPTTL           time.Duration
	OTPSweepInterval time.Duration
	SearchRadiusKm   float64

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN        string
	DirectoryURL string
	StripeAPIKey string

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		ResponseTimeout:  30 * time.Second,
		RequestTimeout:   60 * time.Second,
		CancelWindow:     10 * time.Second,
		OTPTTL:           30 * time.Minute,
		OTPSweepInterval: 5 * time.Minute,
		SearchRadiusKm:   8,
		KafkaTopic:       "driver-locations",
		LogLevel:         "info",
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

	setDurationFromEnv(&cfg.ResponseTimeout, "MATCH_RESPONSE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.RequestTimeout, "MATCH_REQUEST_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.CancelWindow, "CANCEL_WINDOW", &errs)
	setDurationFromEnv(&cfg.OTPTTL, "OTP_TTL", &errs)
	setDurationFromEnv(&cfg.OTPSweepInterval, "OTP_SWEEP_INTERVAL", &errs)
	setFloatFromEnv(&cfg.SearchRadiusKm, "SEARCH_RADIUS_KM", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.DirectoryURL = strings.TrimSpace(os.Getenv("DIRECTORY_URL"))
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.SearchRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("SEARCH_RADIUS_KM must be > 0"))
	}
	if cfg.ResponseTimeout <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_RESPONSE_TIMEOUT must be > 0"))
	}
	if cfg.RequestTimeout <= cfg.ResponseTimeout {
		errs = append(errs, fmt.Errorf("MATCH_REQUEST_TIMEOUT must exceed MATCH_RESPONSE_TIMEOUT"))
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
