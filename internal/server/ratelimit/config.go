package ratelimit

import (
	"strings"
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string  // Endpoint path pattern (supports prefix matching)
	Method string  // HTTP method (GET, POST, etc.)
	Rate   float64 // Sustained requests per second; zero or less means unlimited
	Burst  int     // Burst capacity (defaults to 1 if 0)
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultRate     float64
	DefaultBurst    int
	CleanupInterval time.Duration
	IdleTimeout     time.Duration // buckets unused for this long are dropped
	Whitelist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// NewConfig builds a Config for the intake endpoints from the service settings.
// whitelist is a comma-separated list of client IPs that are never limited.
func NewConfig(enabled bool, rps float64, burst int, whitelist string) *Config {
	return &Config{
		Enabled:         enabled,
		DefaultRate:     rps * 4,
		DefaultBurst:    burst * 4,
		CleanupInterval: 5 * time.Minute,
		IdleTimeout:     time.Hour,
		Whitelist:       parseIPList(whitelist),
		EndpointConfigs: DefaultEndpointConfigs(rps, burst),
	}
}

// DefaultEndpointConfigs returns the limits for the two intake endpoints.
// Submissions do remote work, reports only write a row.
func DefaultEndpointConfigs(rps float64, burst int) []EndpointConfig {
	return []EndpointConfig{
		{Path: "/api-endpoint", Method: "POST", Rate: rps, Burst: burst},
		{Path: "/evaluation/notify", Method: "POST", Rate: rps * 2, Burst: burst * 2},
	}
}

// parseIPList parses a comma-separated list of IP addresses into a map.
func parseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	if list == "" {
		return result
	}

	for _, ip := range strings.Split(list, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			result[ip] = true
		}
	}
	return result
}
