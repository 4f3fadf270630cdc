package app

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface{ Ping(ctx context.Context) error }

// QueueProber answers the cached broker availability without blocking.
type QueueProber interface{ IsAvailable() bool }

// ReadyzHandler reports readiness. The database is a hard dependency; the
// job broker is reported but not required, since the service runs degraded
// without it.
func ReadyzHandler(pool Pinger, queue QueueProber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"db": "ok", "queue": "ok"}
		httpStatus := http.StatusOK

		if pool == nil {
			status["db"] = "not configured"
			httpStatus = http.StatusServiceUnavailable
		} else if err := pool.Ping(ctx); err != nil {
			status["db"] = fmt.Sprintf("error: %v", err)
			httpStatus = http.StatusServiceUnavailable
		}
		if queue == nil || !queue.IsAvailable() {
			status["queue"] = "degraded"
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(httpStatus)
		fmt.Fprintf(w, `{"db":%q,"queue":%q}`, status["db"], status["queue"])
	}
}
