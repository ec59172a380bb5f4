package handlers

import (
	"bytes"
	"net/http"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/logger"
	"github.com/MrSnakeDoc/marks/internal/view"
)

// Snapshot collects the current state of every component.
func Snapshot(d deps.Deps) view.State {
	in := d.Controller.Inputs()
	st := d.Syncer.Status()

	s := view.State{
		Identity:   d.Session.Current(),
		Bookmarks:  d.Syncer.Bookmarks(),
		Selected:   d.Controller.Selected(),
		Title:      in.Title,
		URL:        in.URL,
		MenuOpen:   d.Controller.MenuOpen(),
		Refreshing: st.State == domain.SyncRefreshing,
	}
	if st.State == domain.SyncError {
		s.SyncError = st.LastError
	}
	return s
}

// Index renders the welcome page or the dashboard.
func Index(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := view.Render(&buf, view.Build(Snapshot(d))); err != nil {
			d.Logger.Error("render page", logger.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(buf.Bytes())
	}
}

// backHome answers a form post with a redirect to the page.
func backHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
