package httpapi

import "time"

// maxBodyBytes bounds JSON request bodies. Default 1 MiB.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes sets the request body limit; non-positive restores 1 MiB.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// generationTimeout bounds generation endpoints. Zero means no limit beyond
// server and connection timeouts; the engine watchdog still applies.
var generationTimeout time.Duration

// SetGenerationTimeout sets the per-request generation timeout (0 disables).
func SetGenerationTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	generationTimeout = d
}

// retryAfterSeconds is advertised on 429 responses.
var retryAfterSeconds = 1

// SetRetryAfter sets the Retry-After hint for backpressure responses.
func SetRetryAfter(sec int) {
	if sec < 1 {
		sec = 1
	}
	retryAfterSeconds = sec
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server. Empty lists
// fall back to permissive defaults when enabled.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
