package instance

import "os"

// GetID identifies this process in lock values and logs. RENTFLOW_INSTANCE_ID
// wins, then the hostname.
func GetID() string {
	if id := os.Getenv("RENTFLOW_INSTANCE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
