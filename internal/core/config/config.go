// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type StoreCfg struct {
	URL        string
	Collection string
	// field-name contract with the external registry
	AvailabilityField string
	ServicesField     string
	SpatialField      string
	RecipientField    string
	InLimit           int
	// fail-open swallows query failures into an empty result set;
	// fail-closed surfaces them to the caller
	FailOpen bool
	Timeout  time.Duration
}

type AuthCfg struct {
	TokenURL        string
	Issuer          string
	Scope           string
	Audience        string
	KeyFile         string
	KeyPEM          string
	RefreshMargin   time.Duration
	ExchangeTimeout time.Duration
}

type PushCfg struct {
	URL     string
	AppID   string
	APIKey  string
	Timeout time.Duration
}

type Config struct {
	Addr     string
	LogLevel string

	Precision         int
	MinPrecision      int
	NeighborCacheSize int

	Store StoreCfg
	Auth  AuthCfg
	Push  PushCfg
}

func FromEnv() Config {
	precision := getint("GEOHASH_PRECISION", 6)
	if precision < 1 {
		precision = 1
	}
	if precision > 12 {
		precision = 12
	}

	return Config{
		Addr:     getenv("ADDR", ":8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		Precision:         precision,
		MinPrecision:      getint("GEOHASH_MIN_PRECISION", 1),
		NeighborCacheSize: getint("NEIGHBOR_CACHE_SIZE", 1024),

		Store: StoreCfg{
			URL:               getenv("STORE_URL", ""),
			Collection:        getenv("STORE_COLLECTION", "providers"),
			AvailabilityField: getenv("STORE_FIELD_AVAILABILITY", "isAvailable"),
			ServicesField:     getenv("STORE_FIELD_SERVICES", "services"),
			SpatialField:      getenv("STORE_FIELD_SPATIAL", "geohash"),
			RecipientField:    getenv("STORE_FIELD_RECIPIENT", "oneSignalPlayerId"),
			InLimit:           getint("STORE_IN_LIMIT", 10),
			FailOpen:          getbool("STORE_FAIL_OPEN", true),
			Timeout:           getduration("STORE_TIMEOUT", 10*time.Second),
		},

		Auth: AuthCfg{
			TokenURL:        getenv("AUTH_TOKEN_URL", ""),
			Issuer:          getenv("AUTH_ISSUER", ""),
			Scope:           getenv("AUTH_SCOPE", ""),
			Audience:        getenv("AUTH_AUDIENCE", ""),
			KeyFile:         getenv("AUTH_KEY_FILE", ""),
			KeyPEM:          getenv("AUTH_KEY_PEM", ""),
			RefreshMargin:   getduration("AUTH_REFRESH_MARGIN", 300*time.Second),
			ExchangeTimeout: getduration("AUTH_EXCHANGE_TIMEOUT", 10*time.Second),
		},

		Push: PushCfg{
			URL:     getenv("PUSH_URL", "https://onesignal.com/api/v1"),
			AppID:   getenv("PUSH_APP_ID", ""),
			APIKey:  getenv("PUSH_API_KEY", ""),
			Timeout: getduration("PUSH_TIMEOUT", 10*time.Second),
		},
	}
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
