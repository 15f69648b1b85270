// Package config loads the root tradeguard configuration.
//
// Values come from a YAML file (config.yml, searched for in cmd/<service>,
// config/ and the working directory), a .env file, and environment
// variables prefixed with TRADEGUARD_, in increasing precedence. Every
// section then gets ApplyDefaults and Validate.
//
// # Usage
//
//	cfg, err := config.Load("tradeguard")
//
// Nested keys map to underscore-separated variables, e.g.
// TRADEGUARD_ORCHESTRATOR_RATE_LIMIT_CAPACITY=1200.
package config
