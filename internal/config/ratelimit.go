package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig describes one token-bucket limiter scope. Buckets are
// keyed per client IP and stored in Redis so limits hold across replicas.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	Prefix         string
	Debug          bool
}

// LoadRegisterRateLimit returns the limiter applied to POST /v1/auth/register.
// Registration is abused for account farming, but legitimate users rarely
// retry, so the defaults allow a small burst per IP with a slow refill.
func LoadRegisterRateLimit() RateLimitConfig {
	return loadScope("REGISTER", RateLimitConfig{
		Enabled:        true,
		Capacity:       10,
		RefillTokens:   1,
		RefillInterval: time.Minute,
		Prefix:         "rl:register",
	})
}

// LoadLoginRateLimit returns the limiter applied to POST /v1/auth/login.
// Stricter than registration: credential stuffing is the threat here.
func LoadLoginRateLimit() RateLimitConfig {
	return loadScope("LOGIN", RateLimitConfig{
		Enabled:        true,
		Capacity:       5,
		RefillTokens:   1,
		RefillInterval: 30 * time.Second,
		Prefix:         "rl:login",
	})
}

// loadScope applies RATE_LIMIT_<SCOPE>_* environment overrides on top of the
// given defaults and normalizes the result. The bucket TTL must outlive a
// few refill intervals or idle buckets would reset early and leak capacity.
func loadScope(scope string, def RateLimitConfig) RateLimitConfig {
	p := "RATE_LIMIT_" + scope + "_"
	def.Enabled = envBool(p+"ENABLED", def.Enabled)
	def.Capacity = envInt(p+"CAPACITY", def.Capacity)
	def.RefillTokens = envInt(p+"REFILL_TOKENS", def.RefillTokens)
	def.RefillInterval = envDur(p+"REFILL_INTERVAL", def.RefillInterval)
	def.TTL = envDur(p+"TTL", 10*time.Minute)
	def.Debug = envBool("RATE_LIMIT_DEBUG", false)

	if def.Capacity < 1 {
		def.Capacity = 1
	}
	if def.RefillTokens < 1 {
		def.RefillTokens = 1
	}
	if def.RefillInterval <= 0 {
		def.RefillInterval = time.Second
	}
	minTTL := 5 * def.RefillInterval
	if def.TTL < minTTL {
		def.TTL = minTTL
	}
	return def
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
