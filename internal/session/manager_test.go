package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/marks/internal/backend/backendtest"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

type recorder struct {
	mu  sync.Mutex
	ids []*domain.Identity
}

func (r *recorder) record(id *domain.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartResolvesStoredSession(t *testing.T) {
	alice := &domain.Identity{ID: "alice", Email: "alice@example.com"}
	m := New(backendtest.NewAuth(alice), logger.NewNop())
	rec := &recorder{}
	m.OnChange(rec.record)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-m.Ready()

	if got := m.Current(); got == nil || got.ID != "alice" {
		t.Errorf("Current() = %+v, want alice", got)
	}
	if rec.count() != 1 {
		t.Errorf("listener called %d times, want 1", rec.count())
	}
}

func TestResolveFailureDegradesToSignedOut(t *testing.T) {
	auth := backendtest.NewAuth(nil)
	auth.ResolveWith(func() (*domain.Identity, error) { return nil, errors.New("backend unreachable") })
	m := New(auth, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-m.Ready()

	if m.Current() != nil {
		t.Errorf("Current() = %+v, want nil", m.Current())
	}
	if _, err := m.Resolve(ctx); err == nil {
		t.Error("Resolve() should surface the error to direct callers")
	}
}

func TestFollowsAuthEvents(t *testing.T) {
	auth := backendtest.NewAuth(nil)
	m := New(auth, logger.NewNop())
	rec := &recorder{}
	m.OnChange(rec.record)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = m.Start(ctx)
	<-m.Ready()

	bob := &domain.Identity{ID: "bob"}
	auth.SignIn(bob)
	waitFor(t, func() bool { return m.Current() != nil })

	auth.Emit(domain.AuthEvent{Kind: domain.TokenExpired})
	waitFor(t, func() bool { return m.Current() == nil })

	if rec.count() != 2 {
		t.Errorf("listener called %d times, want 2", rec.count())
	}
}

func TestSameUserDoesNotNotify(t *testing.T) {
	auth := backendtest.NewAuth(nil)
	m := New(auth, logger.NewNop())
	rec := &recorder{}
	m.OnChange(rec.record)

	m.set(&domain.Identity{ID: "alice", Token: "t1"}, nil)
	m.set(&domain.Identity{ID: "alice", Token: "t2"}, nil)

	if rec.count() != 1 {
		t.Errorf("listener called %d times, want 1", rec.count())
	}
	if m.Current().Token != "t2" {
		t.Error("refreshed token should replace the stored identity")
	}
}

func TestStaleResolveLosesToEvent(t *testing.T) {
	m := New(backendtest.NewAuth(nil), logger.NewNop())
	stale := uint64(0)

	m.set(&domain.Identity{ID: "bob"}, nil)
	m.set(&domain.Identity{ID: "alice"}, &stale)

	if m.Current().ID != "bob" {
		t.Errorf("Current() = %s, want bob", m.Current().ID)
	}
}

func TestLogout(t *testing.T) {
	tests := []struct {
		name       string
		signOutErr error
		wantStatus domain.Status
	}{
		{"remote ok", nil, domain.StatusOK},
		{"remote failure still clears locally", errors.New("timeout"), domain.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := backendtest.NewAuth(&domain.Identity{ID: "alice"})
			auth.FailSignOut(tt.signOutErr)
			m := New(auth, logger.NewNop())
			if _, err := m.Resolve(context.Background()); err != nil {
				t.Fatal(err)
			}

			res := m.Logout(context.Background())
			if res.Status != tt.wantStatus {
				t.Errorf("Logout() = %v, want %v", res.Status, tt.wantStatus)
			}
			if m.Current() != nil {
				t.Error("identity should be cleared immediately")
			}
			if auth.SignOuts() != 1 {
				t.Errorf("SignOut called %d times", auth.SignOuts())
			}
		})
	}
}

func TestLogin(t *testing.T) {
	auth := backendtest.NewAuth(nil)
	m := New(auth, logger.NewNop())

	u, err := m.Login(context.Background(), "google")
	if err != nil || u == "" {
		t.Fatalf("Login() = %q, %v", u, err)
	}
	if m.Current() != nil {
		t.Error("Login() must not change local identity")
	}
	if p := auth.Providers(); len(p) != 1 || p[0] != "google" {
		t.Errorf("providers = %v", p)
	}
}
