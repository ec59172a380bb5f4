package handlers

import (
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// Refresh queues a resync. Browsers are sent back to the page; other
// clients get 202, or 429 when a resync is already queued.
func Refresh(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queued := d.Resyncer.Trigger()
		if queued {
			d.Logger.Info("manual refresh triggered", logger.String("remote_ip", r.RemoteAddr))
		} else {
			d.Logger.Warn("refresh already queued", logger.String("remote_ip", r.RemoteAddr))
		}

		if strings.Contains(r.Header.Get("Accept"), "text/html") {
			backHome(w, r)
			return
		}
		if !queued {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("refresh already queued, please wait\n"))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("refresh queued\n"))
	}
}
