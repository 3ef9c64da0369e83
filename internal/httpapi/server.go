// Package httpapi serves the read-only status endpoints of a running job.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"evalprep/internal/metrics"
	"evalprep/pkg/types"
)

// StatusSource is what the HTTP layer reads job state from.
type StatusSource interface {
	Status() types.JobStatus
	Finished() bool
}

// NewMux builds the status router. rec may be nil, in which case /metrics is
// not mounted and requests are not instrumented.
func NewMux(src StatusSource, rec *metrics.Recorder, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Log, zerolog.DebugLevel))
	r.Use(middleware.Recoverer)
	if rec != nil {
		r.Use(MetricsMiddleware(rec))
	}
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(src.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if src.Finished() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("running"))
	})

	if rec != nil {
		r.Get("/metrics", promhttp.HandlerFor(rec.Registry(), promhttp.HandlerOpts{}).ServeHTTP)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Server runs the status router in the background for the lifetime of a job.
type Server struct {
	srv     *http.Server
	ln      net.Listener
	log     zerolog.Logger
	timeout time.Duration

	wg  sync.WaitGroup
	err error
}

// Start listens on opts.Addr and serves in a background goroutine.
func Start(src StatusSource, rec *metrics.Recorder, opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, err
	}
	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &Server{
		srv: &http.Server{
			Handler:           NewMux(src, rec, opts),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:      ln,
		log:     opts.Log,
		timeout: timeout,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("status server error")
			s.err = err
		}
	}()
	return s, nil
}

// Addr returns the address the server is bound to.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Shutdown stops the server gracefully and waits for the serve loop to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return err
	}
	return s.err
}
