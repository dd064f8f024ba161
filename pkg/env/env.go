package env

import "os"

// Prefix namespaces the coordinator's variables.
const Prefix = "RENTFLOW_"

// Get returns RENTFLOW_<key> when set, then the bare key, then fallback.
func Get(key, fallback string) string {
	for _, name := range []string{Prefix + key, key} {
		if val := os.Getenv(name); val != "" {
			return val
		}
	}
	return fallback
}
