package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// logformatter adapts chi's request logging middleware to zerolog, matching
// the one-line-per-request style used across this codebase.
type logformatter struct {
	logger zerolog.Logger
}

func (l *logformatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &logentry{
		logger:  l.logger,
		request: r,
	}
}

type logentry struct {
	logger  zerolog.Logger
	request *http.Request
}

func (l *logentry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	l.logger.Info().
		Str("method", l.request.Method).
		Str("path", l.request.URL.Path).
		Int("status", status).
		Int("bytes", bytes).
		Dur("elapsed", elapsed).
		Str("remote", l.request.RemoteAddr).
		Msg("request")
}

func (l *logentry) Panic(v interface{}, stack []byte) {
	l.logger.Error().
		Interface("panic", v).
		Bytes("stack", stack).
		Msg("request panicked")
}
