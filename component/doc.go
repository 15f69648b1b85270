// Package component defines the lifecycle interface shared by the gateway's
// long-running parts and a registry that starts them in order, stops them
// in reverse and aggregates their health.
package component
