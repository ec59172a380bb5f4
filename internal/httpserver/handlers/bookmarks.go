package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// AddBookmark keeps the submitted values as the form inputs, then adds.
// A skipped add leaves them in place for the next render.
func AddBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		title, url := r.PostFormValue("title"), r.PostFormValue("url")
		d.Controller.SetTitle(title)
		d.Controller.SetURL(url)

		res := d.Controller.Add(r.Context(), title, url)
		d.Logger.Debug("add bookmark", logger.String("result", res.Status.String()))
		backHome(w, r)
	}
}

func ToggleBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Controller.Toggle(chi.URLParam(r, "id"))
		backHome(w, r)
	}
}

func DeleteSelected(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := d.Controller.DeleteSelected(r.Context())
		d.Logger.Debug("delete selected", logger.String("result", res.Status.String()))
		backHome(w, r)
	}
}

func ToggleMenu(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Controller.ToggleMenu()
		backHome(w, r)
	}
}

func DismissMenu(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Controller.DismissMenu()
		backHome(w, r)
	}
}
