// Package env reads raw process environment values. Structured configuration
// lives in pkg/config; this is for the few knobs read before config loads.
package env

import "os"

// Get returns the value of key, or fallback when the variable is unset or empty.
func Get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
