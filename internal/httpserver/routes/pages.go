package routes

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/httpserver/handlers"
)

// actionTimeout bounds page renders and form posts; a refresh with retries fits in it.
const actionTimeout = 15 * time.Second

func init() {
	Register("pages", registerPages, middleware.Timeout(actionTimeout))
}

func registerPages(r chi.Router, d deps.Deps) {
	r.Get("/", handlers.Index(d))

	r.Post("/login", handlers.Login(d))
	r.Get("/auth/callback", handlers.Callback(d))
	r.Post("/logout", handlers.Logout(d))

	r.Post("/bookmarks", handlers.AddBookmark(d))
	r.Post("/bookmarks/delete", handlers.DeleteSelected(d))
	r.Post("/bookmarks/{id}/toggle", handlers.ToggleBookmark(d))

	r.Post("/menu/toggle", handlers.ToggleMenu(d))
	r.Post("/menu/dismiss", handlers.DismissMenu(d))

	r.Post("/refresh", handlers.Refresh(d))
}
