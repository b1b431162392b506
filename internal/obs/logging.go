package obs

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/session"
)

// NewLogger returns a zerolog logger writing JSON to stdout, or a console
// writer when format is "console" or "text". Unknown levels fall back to info.
func NewLogger(format, level string) zerolog.Logger {
	return newLogger(os.Stdout, format, level)
}

func newLogger(w io.Writer, format, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// RequestLogger writes one http_request line per request. 5xx responses are
// logged at error level, 4xx at warn.
type RequestLogger struct {
	Logger zerolog.Logger
}

// Middleware implements chi middleware.
func (l RequestLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := wrap(w)
		start := time.Now()
		next.ServeHTTP(rec, r)

		level := zerolog.InfoLevel
		switch {
		case rec.status >= http.StatusInternalServerError:
			level = zerolog.ErrorLevel
		case rec.status >= http.StatusBadRequest:
			level = zerolog.WarnLevel
		}
		evt := l.Logger.WithLevel(level).
			Str("method", r.Method).
			Str("route", routeOr(r, r.URL.Path)).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Int64("bytes", rec.bytes).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("client_ip", common.ClientIP(r))
		if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
			evt = evt.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
		}
		if id, ok := session.ID(r.Context()); ok {
			evt = evt.Str("session_id", id)
		}
		if ua := r.UserAgent(); ua != "" {
			evt = evt.Str("user_agent", ua)
		}
		evt.Msg("http_request")
	})
}
