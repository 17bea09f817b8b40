package server

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/majorfree/agentd/pkg/correlation"
	"github.com/majorfree/agentd/pkg/supervisor"
)

// withCorrelation adopts the client's correlation id when present and
// mints one otherwise, so every downstream log line carries it.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get(supervisor.CorrelationHeader); id != "" {
			ctx = correlation.WithID(ctx, id)
		} else {
			ctx, _ = correlation.Ensure(ctx)
		}
		w.Header().Set(supervisor.CorrelationHeader, correlation.FromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withRequestLog logs one line per request at completion.
func withRequestLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		correlation.Logger(r.Context(), logger).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps websocket upgrades working through the wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
