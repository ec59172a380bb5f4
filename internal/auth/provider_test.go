package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

func newOAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"sub": "google-123", "email": "ada@example.com", "name": "Ada Lovelace",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvider(t *testing.T, srv *httptest.Server, ttl time.Duration) (*Provider, SessionStore) {
	t.Helper()
	tokens, err := NewTokens("0123456789abcdef0123456789abcdef", "marks", ttl)
	if err != nil {
		t.Fatal(err)
	}
	store := NewMemoryStore()
	p := NewProvider(Options{
		ClientID:    "client",
		AuthURL:     srv.URL + "/authorize",
		TokenURL:    srv.URL + "/token",
		UserInfoURL: srv.URL + "/userinfo",
		RedirectURL: "http://localhost:8080/auth/callback",
		Scopes:      []string{"openid", "email"},
		SessionKey:  "default",
		SessionTTL:  ttl,
	}, tokens, store, logger.NewNop())
	t.Cleanup(p.Close)
	return p, store
}

func stateOf(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse %q: %v", rawURL, err)
	}
	return u.Query().Get("state")
}

func nextEvent(t *testing.T, ch <-chan domain.AuthEvent) domain.AuthEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no auth event")
		return domain.AuthEvent{}
	}
}

func TestSignInFlow(t *testing.T) {
	srv := newOAuthServer(t)
	p, store := newTestProvider(t, srv, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _ := p.OnAuthStateChange(ctx)

	if _, err := p.SignInWithOAuth(ctx, "github"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("SignInWithOAuth(github) error = %v", err)
	}

	consent, err := p.SignInWithOAuth(ctx, ProviderGoogle)
	if err != nil {
		t.Fatalf("SignInWithOAuth() error = %v", err)
	}
	state := stateOf(t, consent)
	if state == "" {
		t.Fatalf("consent URL %q has no state", consent)
	}

	id, err := p.Exchange(ctx, state, "good-code")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if id.ID != "google-123" || id.DisplayName() != "Ada Lovelace" {
		t.Errorf("Exchange() identity = %+v", id)
	}

	ev := nextEvent(t, events)
	if ev.Kind != domain.SignedIn || ev.Identity == nil || ev.Identity.ID != "google-123" {
		t.Errorf("event = %+v, want SignedIn", ev)
	}

	if tok, _ := store.Load(ctx, "default"); tok != id.Token {
		t.Error("session token not persisted")
	}
	current, err := p.CurrentUser(ctx)
	if err != nil || current == nil || current.Email != "ada@example.com" {
		t.Errorf("CurrentUser() = %+v, %v", current, err)
	}

	if _, err := p.Exchange(ctx, state, "good-code"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("replayed state error = %v, want ErrInvalidState", err)
	}
}

func TestExchangeFailures(t *testing.T) {
	srv := newOAuthServer(t)
	p, _ := newTestProvider(t, srv, time.Hour)
	ctx := context.Background()

	if _, err := p.Exchange(ctx, "never-issued", "good-code"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("unknown state error = %v", err)
	}

	consent, _ := p.SignInWithOAuth(ctx, ProviderGoogle)
	if _, err := p.Exchange(ctx, stateOf(t, consent), "bad-code"); err == nil {
		t.Error("Exchange() with a rejected code should fail")
	}

	consent, _ = p.SignInWithOAuth(ctx, ProviderGoogle)
	p.now = func() time.Time { return time.Now().Add(stateTTL + time.Minute) }
	if _, err := p.Exchange(ctx, stateOf(t, consent), "good-code"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expired state error = %v, want ErrInvalidState", err)
	}
}

func TestSignOut(t *testing.T) {
	srv := newOAuthServer(t)
	p, store := newTestProvider(t, srv, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consent, _ := p.SignInWithOAuth(ctx, ProviderGoogle)
	if _, err := p.Exchange(ctx, stateOf(t, consent), "good-code"); err != nil {
		t.Fatal(err)
	}
	events, _ := p.OnAuthStateChange(ctx)

	if err := p.SignOut(ctx); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if ev := nextEvent(t, events); ev.Kind != domain.SignedOut || ev.Identity != nil {
		t.Errorf("event = %+v, want SignedOut", ev)
	}
	if _, err := store.Load(ctx, "default"); !errors.Is(err, ErrNoSession) {
		t.Errorf("session still stored: %v", err)
	}
	if id, err := p.CurrentUser(ctx); id != nil || err != nil {
		t.Errorf("CurrentUser() after sign out = %+v, %v", id, err)
	}
}

func TestCurrentUserDropsInvalidToken(t *testing.T) {
	srv := newOAuthServer(t)
	p, store := newTestProvider(t, srv, time.Hour)
	ctx := context.Background()

	_ = store.Save(ctx, "default", "tampered", time.Hour)
	id, err := p.CurrentUser(ctx)
	if id != nil || err != nil {
		t.Errorf("CurrentUser() = %+v, %v, want nil, nil", id, err)
	}
	if _, err := store.Load(ctx, "default"); !errors.Is(err, ErrNoSession) {
		t.Error("invalid token should be erased")
	}
}

func TestTokenExpiryEvent(t *testing.T) {
	srv := newOAuthServer(t)
	p, store := newTestProvider(t, srv, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _ := p.OnAuthStateChange(ctx)
	consent, _ := p.SignInWithOAuth(ctx, ProviderGoogle)
	if _, err := p.Exchange(ctx, stateOf(t, consent), "good-code"); err != nil {
		t.Fatal(err)
	}
	if ev := nextEvent(t, events); ev.Kind != domain.SignedIn {
		t.Fatalf("first event = %v", ev.Kind)
	}
	if ev := nextEvent(t, events); ev.Kind != domain.TokenExpired {
		t.Errorf("second event = %v, want TokenExpired", ev.Kind)
	}
	if _, err := store.Load(ctx, "default"); !errors.Is(err, ErrNoSession) {
		t.Error("expired session should be erased")
	}
}

func TestListenerClosedWithContext(t *testing.T) {
	srv := newOAuthServer(t)
	p, _ := newTestProvider(t, srv, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	events, _ := p.OnAuthStateChange(ctx)
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("listener channel not closed")
	}
}

// gatedStore blocks the first Erase until release is closed.
type gatedStore struct {
	*MemoryStore
	erasing chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) Erase(ctx context.Context, key string) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.erasing)
		<-g.release
	}
	return g.MemoryStore.Erase(ctx, key)
}

func TestExpiryDoesNotEraseNewerSession(t *testing.T) {
	srv := newOAuthServer(t)
	p, _ := newTestProvider(t, srv, time.Hour)
	store := &gatedStore{MemoryStore: NewMemoryStore(), erasing: make(chan struct{}), release: make(chan struct{})}
	p.store = store
	ctx := context.Background()

	consent, _ := p.SignInWithOAuth(ctx, ProviderGoogle)
	if _, err := p.Exchange(ctx, stateOf(t, consent), "good-code"); err != nil {
		t.Fatal(err)
	}
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()

	expired := make(chan struct{})
	go func() {
		p.expire(gen)
		close(expired)
	}()
	<-store.erasing

	consent, _ = p.SignInWithOAuth(ctx, ProviderGoogle)
	signedIn := make(chan *domain.Identity, 1)
	go func() {
		id, err := p.Exchange(ctx, stateOf(t, consent), "good-code")
		if err != nil {
			t.Errorf("second Exchange() error = %v", err)
		}
		signedIn <- id
	}()

	time.Sleep(50 * time.Millisecond)
	close(store.release)
	<-expired
	id := <-signedIn

	tok, err := store.Load(ctx, "default")
	if err != nil || id == nil || tok != id.Token {
		t.Errorf("stored session after expiry = %q, %v, want the newer token", tok, err)
	}
}
