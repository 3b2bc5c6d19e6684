// Package config loads runtime configuration from environment variables
// with sensible defaults.
package config

import (
	"os"
	"strconv"
)

// Config holds the addresses and tunables of one weave process.
type Config struct {
	// ControlAddr is the JSON control plane listener.
	ControlAddr string
	// APIAddr is the read-only HTTP API and metrics listener.
	APIAddr string
	// SRTAddr is the SRT ingest listener.
	SRTAddr string
	// EgressAddr is the TCP frame streamer listener.
	EgressAddr string
	// Debug raises the log level to debug.
	Debug bool
}

// Load reads configuration from the environment.
func Load() *Config {
	return &Config{
		ControlAddr: getEnv("CONTROL_ADDR", ":7777"),
		APIAddr:     getEnv("API_ADDR", ":8080"),
		SRTAddr:     getEnv("SRT_ADDR", ":6000"),
		EgressAddr:  getEnv("EGRESS_ADDR", ":9000"),
		Debug:       getBoolEnv("DEBUG", false),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
