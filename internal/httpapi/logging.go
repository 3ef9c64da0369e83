package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"evalprep/internal/logging"
)

// requestLogLevel honors a ?log= query or X-Log-Level header, parsed the same
// way as --log_level; status polls are otherwise logged at def.
func requestLogLevel(r *http.Request, def zerolog.Level) zerolog.Level {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return zerolog.DebugLevel
		}
		return logging.ParseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return logging.ParseLevel(v)
	}
	return def
}

// requestLogger logs one line per request with zerolog.
func requestLogger(log zerolog.Logger, def zerolog.Level) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lvl := requestLogLevel(r, def)
			if lvl == zerolog.Disabled {
				next.ServeHTTP(w, r)
				return
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			var ev *zerolog.Event
			switch {
			case status >= 500:
				ev = log.Error()
			case lvl <= zerolog.DebugLevel:
				ev = log.Debug()
			case lvl <= zerolog.InfoLevel:
				ev = log.Info()
			default:
				return
			}
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				ev = ev.Str("request_id", rid)
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("dur", time.Since(start)).
				Msg("http request")
		})
	}
}
