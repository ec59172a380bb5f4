package backendtest

import (
	"context"
	"sync"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/domain"
)

// Auth is a scripted authentication backend.
type Auth struct {
	mu         sync.Mutex
	current    *domain.Identity
	resolveFn  func() (*domain.Identity, error)
	listeners  []chan domain.AuthEvent
	signOuts   int
	signOutErr error
	providers  []string
}

// NewAuth returns an Auth whose session holds id (nil for signed out).
func NewAuth(id *domain.Identity) *Auth {
	return &Auth{current: id}
}

var _ backend.Auth = (*Auth)(nil)

// ResolveWith overrides CurrentUser.
func (a *Auth) ResolveWith(fn func() (*domain.Identity, error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resolveFn = fn
}

func (a *Auth) FailSignOut(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signOutErr = err
}

func (a *Auth) CurrentUser(ctx context.Context) (*domain.Identity, error) {
	a.mu.Lock()
	fn := a.resolveFn
	cur := a.current
	a.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return cur, ctx.Err()
}

func (a *Auth) OnAuthStateChange(ctx context.Context) (<-chan domain.AuthEvent, error) {
	ch := make(chan domain.AuthEvent, 8)
	a.mu.Lock()
	a.listeners = append(a.listeners, ch)
	a.mu.Unlock()
	return ch, nil
}

func (a *Auth) SignInWithOAuth(_ context.Context, provider string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.providers = append(a.providers, provider)
	return "https://auth.example/authorize?provider=" + provider, nil
}

// SignOut clears the session and broadcasts SignedOut.
func (a *Auth) SignOut(_ context.Context) error {
	a.mu.Lock()
	a.signOuts++
	if a.signOutErr != nil {
		err := a.signOutErr
		a.mu.Unlock()
		return err
	}
	a.current = nil
	a.mu.Unlock()

	a.Emit(domain.AuthEvent{Kind: domain.SignedOut})
	return nil
}

// SignIn stores id and broadcasts SignedIn, as a completed OAuth flow would.
func (a *Auth) SignIn(id *domain.Identity) {
	a.mu.Lock()
	a.current = id
	a.mu.Unlock()
	a.Emit(domain.AuthEvent{Kind: domain.SignedIn, Identity: id})
}

// Emit delivers ev to every listener.
func (a *Auth) Emit(ev domain.AuthEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ch := range a.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (a *Auth) SignOuts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.signOuts
}

func (a *Auth) Providers() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.providers...)
}
