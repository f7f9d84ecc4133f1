// Package config loads application configuration from environment
// variables. Connection settings are mandatory and enforced with must();
// the engine's policy values (tolerance window, poll budgets, reconcile
// wait) have defaults matching the observed deployment and are tunable
// per installation; they are policy, not protocol.
package config

import (
	"log"     // log reports configuration errors and halts execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"    // time expresses the policy budgets as durations
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	DBUser    string // database username
	DBPass    string // database password (optional)
	DBHost    string // database host address
	DBPort    string // database port number
	DBName    string // database name
	JWTSecret string // secret used to verify institutional bearer tokens

	SSOGatewayKey string // shared key the SSO gateway presents on token exchange
	TokenTTLMin   int    // institutional bearer token lifetime in minutes

	IntentBaseURL string        // base URL of the intent backend
	IntentTimeout time.Duration // per-request timeout for intent calls

	WalletRelayURL string // base URL of the wallet relay (optional)

	RedisPrefix string        // namespace prefix for cache collections
	RedisTTL    time.Duration // expiry refreshed on cache writes (0 = none)

	// Engine policy. The 60 s tolerance and 120 s reconcile wait mirror
	// the original deployment; neither is a protocol invariant.
	ToleranceSec      int64
	AuthPollInterval  time.Duration
	AuthMaxWait       time.Duration
	ExecPollInterval  time.Duration
	ExecMaxWait       time.Duration
	ReconcileInterval time.Duration
	ReconcileMaxWait  time.Duration
}

// Load reads configuration values from environment variables and returns a
// Config. Missing required variables cause a fatal log message.
func Load() Config {
	return Config{
		Env:       must("APP_ENV"),
		Port:      must("APP_PORT"),
		DBUser:    must("DB_USER"),
		DBPass:    os.Getenv("DB_PASS"), // empty allowed
		DBHost:    must("DB_HOST"),
		DBPort:    must("DB_PORT"),
		DBName:    must("DB_NAME"),
		JWTSecret: must("JWT_SECRET"),

		SSOGatewayKey: must("SSO_GATEWAY_KEY"),
		TokenTTLMin:   atoi(getenv("TOKEN_TTL_MIN", "15")),

		IntentBaseURL: must("INTENT_BASE_URL"),
		IntentTimeout: dur(getenv("INTENT_TIMEOUT", "15s")),

		WalletRelayURL: os.Getenv("WALLET_RELAY_URL"),

		RedisPrefix: getenv("REDIS_PREFIX", "labres"),
		RedisTTL:    dur(getenv("REDIS_TTL", "24h")),

		ToleranceSec:      int64(atoi(getenv("MATCH_TOLERANCE_SEC", "60"))),
		AuthPollInterval:  dur(getenv("AUTH_POLL_INTERVAL", "2s")),
		AuthMaxWait:       dur(getenv("AUTH_MAX_WAIT", "60s")),
		ExecPollInterval:  dur(getenv("EXEC_POLL_INTERVAL", "2s")),
		ExecMaxWait:       dur(getenv("EXEC_MAX_WAIT", "120s")),
		ReconcileInterval: dur(getenv("RECONCILE_INTERVAL", "15s")),
		ReconcileMaxWait:  dur(getenv("RECONCILE_MAX_WAIT", "120s")),
	}
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// getenv returns the variable's value or def when unset.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int: %q", s)
	}
	return n
}

func dur(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatalf("invalid duration: %q", s)
	}
	return d
}
