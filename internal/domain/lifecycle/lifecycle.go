// Package lifecycle holds shared timeouts for component start and stop hooks.
package lifecycle

import "time"

// DefaultTimeout bounds fx OnStart/OnStop hooks such as pinging the
// database or shutting down the HTTP server.
const DefaultTimeout = 10 * time.Second
