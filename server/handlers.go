package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
)

// Handlers holds dependencies for the plain HTTP endpoints.
type Handlers struct {
	db     *sql.DB
	alerts StatusSource
}

// HandleHealthz responds to liveness probes by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes: the process is ready once the
// database answers and the alert state document is loadable.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.db == nil {
				return nil
			}
			return h.db.PingContext(r.Context())
		}},
		{"alert_state", func() error {
			if h.alerts == nil {
				return nil
			}
			_, err := h.alerts.Users(r.Context())
			return err
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports a summary of the alert state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if h.alerts != nil {
		users, err := h.alerts.Users(r.Context())
		if err != nil {
			http.Error(w, "failed to read alert state", http.StatusInternalServerError)
			return
		}
		live, err := h.alerts.LiveChannels(r.Context())
		if err != nil {
			http.Error(w, "failed to read alert state", http.StatusInternalServerError)
			return
		}
		out["watched_users"] = users
		out["live_channels"] = live
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
