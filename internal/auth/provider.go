// Package auth is the hosted-authentication side of the backend: an OAuth
// sign-in flow whose outcome is kept as a signed session token in a
// SessionStore, plus identity-change notifications.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// ProviderGoogle is the only sign-in provider offered by the UI.
const ProviderGoogle = "google"

// stateTTL bounds how long a sign-in started with SignInWithOAuth may take.
const stateTTL = 10 * time.Minute

var (
	// ErrInvalidState is returned by Exchange for unknown or expired state values.
	ErrInvalidState = errors.New("auth: invalid oauth state")
	// ErrUnsupportedProvider is returned by SignInWithOAuth for providers other than google.
	ErrUnsupportedProvider = errors.New("auth: unsupported provider")
)

// Options configures a Provider.
type Options struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURL  string
	Scopes       []string

	SessionKey string        // key of this client's session in the store
	SessionTTL time.Duration // lifetime of the stored entry, matches the token
}

// Provider implements backend.Auth.
type Provider struct {
	oauth       *oauth2.Config
	userInfoURL string
	tokens      *Tokens
	store       SessionStore
	key         string
	ttl         time.Duration
	log         logger.Logger

	// sessionMu orders writes to the stored session with the gen checks that
	// guard them. Lock it before mu.
	sessionMu sync.Mutex

	mu        sync.Mutex
	states    map[string]time.Time // pending state -> deadline
	listeners map[chan domain.AuthEvent]struct{}
	expiry    *time.Timer
	gen       uint64 // bumped whenever the session changes, stale timers check it
	now       func() time.Time
}

// NewProvider wires the OAuth client, the token signer and the session store.
func NewProvider(opts Options, tokens *Tokens, store SessionStore, log logger.Logger) *Provider {
	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Scopes:       opts.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  opts.AuthURL,
				TokenURL: opts.TokenURL,
			},
		},
		userInfoURL: opts.UserInfoURL,
		tokens:      tokens,
		store:       store,
		key:         opts.SessionKey,
		ttl:         opts.SessionTTL,
		log:         log,
		states:      make(map[string]time.Time),
		listeners:   make(map[chan domain.AuthEvent]struct{}),
		now:         time.Now,
	}
}

var _ backend.Auth = (*Provider)(nil)

// CurrentUser loads and verifies the stored token. A missing, expired or
// forged token yields no identity; an unverifiable token is erased.
func (p *Provider) CurrentUser(ctx context.Context) (*domain.Identity, error) {
	raw, err := p.store.Load(ctx, p.key)
	if errors.Is(err, ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	id, err := p.tokens.Parse(raw)
	if err != nil {
		p.log.Info("discarding stored session", logger.Error(err))
		if eraseErr := p.store.Erase(ctx, p.key); eraseErr != nil {
			p.log.Warn("failed to erase stored session", logger.Error(eraseErr))
		}
		return nil, nil
	}

	p.mu.Lock()
	p.scheduleExpiryLocked(id.ExpiresAt)
	p.mu.Unlock()
	return id, nil
}

// OnAuthStateChange registers a listener; the channel is closed when ctx ends.
func (p *Provider) OnAuthStateChange(ctx context.Context) (<-chan domain.AuthEvent, error) {
	ch := make(chan domain.AuthEvent, 8)

	p.mu.Lock()
	p.listeners[ch] = struct{}{}
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(p.listeners, ch)
		close(ch)
		p.mu.Unlock()
	}()
	return ch, nil
}

// SignInWithOAuth returns the provider's consent URL with a fresh state value.
func (p *Provider) SignInWithOAuth(_ context.Context, provider string) (string, error) {
	if provider != ProviderGoogle {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
	state, err := randomState()
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	now := p.now()
	for s, deadline := range p.states {
		if now.After(deadline) {
			delete(p.states, s)
		}
	}
	p.states[state] = now.Add(stateTTL)
	p.mu.Unlock()

	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// Exchange completes the flow started by SignInWithOAuth: it trades code for
// an access token, fetches the user profile, stores a session token and
// announces SignedIn.
func (p *Provider) Exchange(ctx context.Context, state, code string) (*domain.Identity, error) {
	if !p.consumeState(state) {
		return nil, ErrInvalidState
	}
	if code == "" {
		return nil, errors.New("auth: missing authorization code")
	}

	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	profile, err := p.fetchProfile(ctx, tok)
	if err != nil {
		return nil, err
	}

	id, err := p.tokens.Issue(domain.Identity{
		ID:       profile.Subject,
		Email:    profile.Email,
		FullName: profile.Name,
	})
	if err != nil {
		return nil, err
	}
	p.sessionMu.Lock()
	defer p.sessionMu.Unlock()
	if err := p.store.Save(ctx, p.key, id.Token, p.ttl); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	p.mu.Lock()
	p.gen++
	p.scheduleExpiryLocked(id.ExpiresAt)
	p.broadcastLocked(domain.AuthEvent{Kind: domain.SignedIn, Identity: id})
	p.mu.Unlock()

	p.log.Info("signed in", logger.String("user_id", id.ID))
	return id, nil
}

// SignOut erases the stored session and announces SignedOut.
func (p *Provider) SignOut(ctx context.Context) error {
	p.sessionMu.Lock()
	defer p.sessionMu.Unlock()
	if err := p.store.Erase(ctx, p.key); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}

	p.mu.Lock()
	p.gen++
	p.stopExpiryLocked()
	p.broadcastLocked(domain.AuthEvent{Kind: domain.SignedOut})
	p.mu.Unlock()
	return nil
}

// Close stops the pending expiry timer.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.stopExpiryLocked()
}

type profile struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

func (p *Provider) fetchProfile(ctx context.Context, tok *oauth2.Token) (*profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	resp, err := p.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch userinfo: unexpected status %d", resp.StatusCode)
	}
	var prof profile
	if err := json.NewDecoder(resp.Body).Decode(&prof); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if prof.Subject == "" {
		return nil, errors.New("userinfo has no subject")
	}
	return &prof, nil
}

func (p *Provider) consumeState(state string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	deadline, ok := p.states[state]
	if !ok {
		return false
	}
	delete(p.states, state)
	return !p.now().After(deadline)
}

// scheduleExpiryLocked arms a timer that erases the session and announces
// TokenExpired at expiresAt. p.mu must be held.
func (p *Provider) scheduleExpiryLocked(expiresAt time.Time) {
	p.stopExpiryLocked()
	if expiresAt.IsZero() {
		return
	}
	gen := p.gen
	p.expiry = time.AfterFunc(time.Until(expiresAt), func() { p.expire(gen) })
}

func (p *Provider) stopExpiryLocked() {
	if p.expiry != nil {
		p.expiry.Stop()
		p.expiry = nil
	}
}

// expire holds sessionMu throughout, so a sign-in cannot save a fresh session
// between the gen check and the erase.
func (p *Provider) expire(gen uint64) {
	p.sessionMu.Lock()
	defer p.sessionMu.Unlock()

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.gen++
	p.expiry = nil
	p.mu.Unlock()

	if err := p.store.Erase(context.Background(), p.key); err != nil {
		p.log.Warn("failed to erase expired session", logger.Error(err))
	}
	p.log.Info("session expired")

	p.mu.Lock()
	p.broadcastLocked(domain.AuthEvent{Kind: domain.TokenExpired})
	p.mu.Unlock()
}

// broadcastLocked never blocks; a listener that falls behind misses events.
func (p *Provider) broadcastLocked(ev domain.AuthEvent) {
	for ch := range p.listeners {
		select {
		case ch <- ev:
		default:
			p.log.Warn("auth listener is full, dropping event", logger.String("event", ev.Kind.String()))
		}
	}
}

func randomState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
