package handlers

import (
	"errors"
	"net/http"

	"github.com/MrSnakeDoc/marks/internal/auth"
	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// Login sends the browser to the provider's consent page.
func Login(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := r.PostFormValue("provider")
		if provider == "" {
			provider = auth.ProviderGoogle
		}

		target, err := d.Session.Login(r.Context(), provider)
		if err != nil {
			d.Logger.Warn("login failed", logger.String("provider", provider), logger.Error(err))
			if errors.Is(err, auth.ErrUnsupportedProvider) {
				http.Error(w, "unsupported provider", http.StatusBadRequest)
				return
			}
			http.Error(w, "sign-in is unavailable", http.StatusBadGateway)
			return
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

// Callback completes the OAuth redirect, then resolves the new session so
// the dashboard is ready when the browser lands on it.
func Callback(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			d.Logger.Info("sign-in cancelled by provider", logger.String("error", e))
			backHome(w, r)
			return
		}

		if _, err := d.Exchanger.Exchange(r.Context(), q.Get("state"), q.Get("code")); err != nil {
			d.Logger.Warn("oauth callback failed", logger.Error(err))
			if errors.Is(err, auth.ErrInvalidState) {
				http.Error(w, "sign-in expired, please try again", http.StatusBadRequest)
				return
			}
			http.Error(w, "sign-in failed", http.StatusBadGateway)
			return
		}

		if _, err := d.Session.Resolve(r.Context()); err != nil {
			d.Logger.Warn("resolve session after sign-in", logger.Error(err))
		}
		backHome(w, r)
	}
}

func Logout(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if res := d.Session.Logout(r.Context()); !res.OK() {
			d.Logger.Warn("logout", logger.String("result", res.String()))
		}
		backHome(w, r)
	}
}
