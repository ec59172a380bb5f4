package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

var timeNow = time.Now

type readyzResponse struct {
	Ready      bool   `json:"ready"`
	Subscribed bool   `json:"subscribed"`
	Error      string `json:"error,omitempty"`
}

// Readyz reports whether the storage backend answers a ping.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()

		resp := readyzResponse{Ready: true, Subscribed: d.Syncer.Status().Subscribed}
		status := http.StatusOK
		if err := d.Storage.Ping(ctx); err != nil {
			d.Logger.Warn("storage ping failed", logger.Error(err))
			resp.Ready = false
			resp.Error = err.Error()
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
