package http

import (
	"context"
	"net/http"
)

// pinger is satisfied by the database store.
type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness plus database connectivity. It sits outside
// the authenticated API group.
func Health(db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbStatus := "ok"
		status := http.StatusOK
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				dbStatus = "unreachable"
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, map[string]string{
			"status":   "ok",
			"database": dbStatus,
		})
	}
}
