package httpapi

import (
	"time"

	"github.com/rs/zerolog"
)

// Options configures the status server.
type Options struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// CORSOrigins enables CORS for the listed origins. Empty disables it.
	CORSOrigins []string
	Log         zerolog.Logger
	// ShutdownTimeout bounds Server.Shutdown. Defaults to 5s.
	ShutdownTimeout time.Duration
}

var (
	corsAllowedMethods = []string{"GET", "OPTIONS"}
	corsAllowedHeaders = []string{"Accept", "Content-Type", "X-Log-Level"}
)
