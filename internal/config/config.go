package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains runtime configuration required by the service.
type Config struct {
	DBURL    string
	HTTPAddr string
	APIKeys  map[string]string // apiKey -> ownerID

	// Consumer pool tunables.
	WorkerCount  int
	ReceiveBatch int
	Lease        time.Duration
	PollInterval time.Duration
	MaxReceives  int

	// Uniform retry policy for enqueue and publish.
	RetryMaxTries  uint
	RetryBaseDelay time.Duration

	ShutdownTimeout time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durenvms(key string, defMs int) time.Duration {
	return time.Duration(atoienv(key, defMs)) * time.Millisecond
}

func durenvs(key string, defSec int) time.Duration {
	return time.Duration(atoienv(key, defSec)) * time.Second
}

// Load reads required values from environment variables.
// API_KEYS format: "owner1:key1,owner2:key2"
func Load() (Config, error) {
	dbURL := strings.TrimSpace(os.Getenv("DB_URL"))
	if dbURL == "" {
		return Config{}, errors.New("DB_URL required")
	}

	apiKeys, err := parseAPIKeys(os.Getenv("API_KEYS"))
	if err != nil {
		return Config{}, err
	}

	// Guard the uint conversion: a negative override would wrap into an
	// effectively unbounded retry count.
	retryTries := atoienv("RETRY_MAX_TRIES", 3)
	if retryTries < 1 {
		retryTries = 1
	}

	return Config{
		DBURL:           dbURL,
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		APIKeys:         apiKeys,
		WorkerCount:     atoienv("WORKER_COUNT", 4),
		ReceiveBatch:    atoienv("RECEIVE_BATCH", 10),
		Lease:           durenvs("LEASE_SECONDS", 30),
		PollInterval:    durenvms("POLL_INTERVAL_MS", 500),
		MaxReceives:     atoienv("MAX_RECEIVES", 3),
		RetryMaxTries:   uint(retryTries),
		RetryBaseDelay:  durenvms("RETRY_BASE_DELAY_MS", 250),
		ShutdownTimeout: durenvs("SHUTDOWN_TIMEOUT", 15),
	}, nil
}

func parseAPIKeys(raw string) (map[string]string, error) {
	apiKeys := map[string]string{}

	raw = strings.TrimSpace(raw)
	if raw != "" {
		pairs := strings.Split(raw, ",")
		for _, p := range pairs {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			parts := strings.SplitN(p, ":", 2)
			if len(parts) != 2 {
				return nil, errors.New(`API_KEYS must be "owner:key,owner:key"`)
			}
			owner := strings.TrimSpace(parts[0])
			key := strings.TrimSpace(parts[1])
			if owner == "" || key == "" {
				return nil, errors.New(`API_KEYS must be "owner:key,owner:key"`)
			}
			apiKeys[key] = owner
		}
	}

	// Local dev fallback so the service runs out-of-the-box.
	if len(apiKeys) == 0 {
		apiKeys["owner-key-123"] = "owner1"
	}

	return apiKeys, nil
}
