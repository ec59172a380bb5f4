// Package session owns the current identity: it resolves the stored session
// at startup, follows identity-change notifications and tells the other
// components whenever the signed-in user changes.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// Listener is called with the new identity, nil once signed out.
type Listener func(id *domain.Identity)

// Manager is safe for concurrent use.
type Manager struct {
	auth backend.Auth
	log  logger.Logger

	mu        sync.RWMutex
	identity  *domain.Identity
	version   uint64 // bumped on every change, lets the initial resolve lose to a newer event
	listeners []Listener

	// notifyMu serializes change+notify so listeners observe changes in order.
	notifyMu sync.Mutex

	ready     chan struct{}
	readyOnce sync.Once
}

func New(auth backend.Auth, log logger.Logger) *Manager {
	return &Manager{
		auth:  auth,
		log:   log,
		ready: make(chan struct{}),
	}
}

// Start subscribes to identity changes for the lifetime of ctx and resolves
// the stored session in the background. Ready is closed once that first
// resolution is done, successful or not.
func (m *Manager) Start(ctx context.Context) error {
	events, err := m.auth.OnAuthStateChange(ctx)
	if err != nil {
		m.markReady()
		return fmt.Errorf("subscribe to auth changes: %w", err)
	}

	go m.follow(events)
	go func() {
		defer m.markReady()
		m.resolve(ctx)
	}()
	return nil
}

// Ready is closed after the startup resolution finished.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

// Resolve loads the stored session synchronously and makes it current.
func (m *Manager) Resolve(ctx context.Context) (*domain.Identity, error) {
	id, err := m.auth.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	m.set(id, nil)
	return id, nil
}

// Login starts the external sign-in flow and returns the URL to visit.
// Local state only changes once the SignedIn notification arrives.
func (m *Manager) Login(ctx context.Context, provider string) (string, error) {
	u, err := m.auth.SignInWithOAuth(ctx, provider)
	if err != nil {
		return "", fmt.Errorf("sign in with %s: %w", provider, err)
	}
	return u, nil
}

// Logout invalidates the remote session and clears the local identity right
// away. The identity is cleared even when the remote call fails.
func (m *Manager) Logout(ctx context.Context) domain.Result {
	err := m.auth.SignOut(ctx)
	m.set(nil, nil)
	if err != nil {
		m.log.Warn("remote sign out failed", logger.Error(err))
		return domain.Failed("sign out", err)
	}
	return domain.OK()
}

// Current returns the signed-in identity, or nil.
func (m *Manager) Current() *domain.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

// OnChange registers fn. Listeners run synchronously, in registration order,
// each time the signed-in user changes.
func (m *Manager) OnChange(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) resolve(ctx context.Context) {
	m.mu.RLock()
	startVersion := m.version
	m.mu.RUnlock()

	id, err := m.auth.CurrentUser(ctx)
	if err != nil {
		m.log.Warn("could not resolve session, continuing signed out", logger.Error(err))
		return
	}
	m.set(id, &startVersion)
}

func (m *Manager) follow(events <-chan domain.AuthEvent) {
	for ev := range events {
		m.log.Debug("auth state changed", logger.String("event", ev.Kind.String()))
		switch ev.Kind {
		case domain.SignedIn:
			m.set(ev.Identity, nil)
		case domain.SignedOut, domain.TokenExpired:
			m.set(nil, nil)
		}
	}
}

// set replaces the identity. With ifVersion set, the change is dropped when
// another change happened since that version was read.
func (m *Manager) set(id *domain.Identity, ifVersion *uint64) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if ifVersion != nil && *ifVersion != m.version {
		m.mu.Unlock()
		return
	}
	changed := !domain.SameUser(m.identity, id)
	m.identity = id
	m.version++
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	if !changed {
		return
	}
	if id != nil {
		m.log.Info("signed in", logger.String("user_id", id.ID))
	} else {
		m.log.Info("signed out")
	}
	for _, fn := range listeners {
		fn(id)
	}
}

func (m *Manager) markReady() {
	m.readyOnce.Do(func() { close(m.ready) })
}
