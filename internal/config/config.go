// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr   string
	AdminSecret  string
	DatabasePath string

	GatewayURL     string
	MinCredit      float64
	CreditCacheTTL time.Duration
	KeysRefresh    time.Duration
	RequestTimeout time.Duration

	KeyListPath string

	UsePocketBase        bool
	PocketBaseURL        string
	PocketBaseCollection string
	PocketBaseEmail      string
	PocketBasePassword   string
}

// HasPocketBaseCredentials reports whether the remote key source can
// authenticate. Without credentials the pool loads from the fallback file only.
func (c *Config) HasPocketBaseCredentials() bool {
	return c.PocketBaseEmail != "" && c.PocketBasePassword != ""
}

// Load reads configuration from environment variables and returns a validated
// Config. ADMIN_SECRET is required; everything else has a default. Optional
// variables: HOST (0.0.0.0), PORT (8000), DATABASE_PATH (data/lb_database.db),
// GATEWAY_URL (https://ai-gateway.vercel.sh), MIN_CREDIT (0.01),
// CREDIT_CACHE_TTL (300), KEYS_REFRESH_INTERVAL (300), REQUEST_TIMEOUT (300),
// KEY_LIST_PATH (config/key-list.json), USE_POCKETBASE (true),
// POCKETBASE_URL, POCKETBASE_COLLECTION (Vercel_api_key), POCKETBASE_EMAIL,
// POCKETBASE_PASSWORD. The interval variables are whole seconds.
func Load() (*Config, error) {
	adminSecret := os.Getenv("ADMIN_SECRET")
	if adminSecret == "" {
		return nil, fmt.Errorf("ADMIN_SECRET environment variable is not set")
	}

	host := "0.0.0.0"
	if v, ok := os.LookupEnv("HOST"); ok {
		host = v
	}

	port := "8000"
	if v, ok := os.LookupEnv("PORT"); ok {
		if _, err := strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("PORT has invalid value %q: %w", v, err)
		}
		port = v
	}

	dbPath := "data/lb_database.db"
	if v, ok := os.LookupEnv("DATABASE_PATH"); ok {
		dbPath = v
	}

	gatewayURL := "https://ai-gateway.vercel.sh"
	if v, ok := os.LookupEnv("GATEWAY_URL"); ok {
		gatewayURL = v
	}

	minCredit := 0.01
	if v, ok := os.LookupEnv("MIN_CREDIT"); ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("MIN_CREDIT has invalid value %q: %w", v, err)
		}
		minCredit = parsed
	}

	creditTTL, err := secondsEnv("CREDIT_CACHE_TTL", 300*time.Second)
	if err != nil {
		return nil, err
	}

	keysRefresh, err := secondsEnv("KEYS_REFRESH_INTERVAL", 300*time.Second)
	if err != nil {
		return nil, err
	}

	requestTimeout, err := secondsEnv("REQUEST_TIMEOUT", 300*time.Second)
	if err != nil {
		return nil, err
	}

	keyListPath := "config/key-list.json"
	if v, ok := os.LookupEnv("KEY_LIST_PATH"); ok {
		keyListPath = v
	}

	usePocketBase := true
	if v, ok := os.LookupEnv("USE_POCKETBASE"); ok {
		usePocketBase = v == "true" || v == "1"
	}

	collection := "Vercel_api_key"
	if v, ok := os.LookupEnv("POCKETBASE_COLLECTION"); ok {
		collection = v
	}

	return &Config{
		ListenAddr:           net.JoinHostPort(host, port),
		AdminSecret:          adminSecret,
		DatabasePath:         dbPath,
		GatewayURL:           gatewayURL,
		MinCredit:            minCredit,
		CreditCacheTTL:       creditTTL,
		KeysRefresh:          keysRefresh,
		RequestTimeout:       requestTimeout,
		KeyListPath:          keyListPath,
		UsePocketBase:        usePocketBase,
		PocketBaseURL:        os.Getenv("POCKETBASE_URL"),
		PocketBaseCollection: collection,
		PocketBaseEmail:      os.Getenv("POCKETBASE_EMAIL"),
		PocketBasePassword:   os.Getenv("POCKETBASE_PASSWORD"),
	}, nil
}

// secondsEnv reads a whole number of seconds from the environment.
func secondsEnv(name string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def, nil
	}

	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid value %q: %w", name, v, err)
	}

	return time.Duration(secs) * time.Second, nil
}
