package proxy

import "os"

// envOr returns the named environment variable, or fallback when it's unset
// or empty.
func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
