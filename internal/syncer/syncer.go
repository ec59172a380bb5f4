// Package syncer keeps a local, newest-first copy of the signed-in user's
// bookmarks in step with the backend. It refetches the whole collection on
// every change notification and discards responses that arrive out of order
// or belong to a previous user.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

const maxBackoff = 5 * time.Second

// Status is the user-visible state of the cache.
type Status struct {
	State       domain.SyncState
	LastError   string
	LastRefresh time.Time
	Subscribed  bool
}

// Options tunes refresh retries.
type Options struct {
	Attempts int           // tries per refresh, at least 1
	Backoff  time.Duration // wait after the first failure, doubled up to maxBackoff
}

// Syncer is safe for concurrent use.
type Syncer struct {
	store    backend.Storage
	realtime backend.Realtime
	log      logger.Logger
	opts     Options
	now      func() time.Time

	// scopeMu serializes identity changes, so acquiring and releasing
	// subscriptions never interleave.
	scopeMu sync.Mutex
	scope   context.Context // from SetIdentity, bounds every subscription
	sub     *subscription
	closed  bool

	mu        sync.Mutex
	identity  *domain.Identity
	cache     []domain.Bookmark
	nextSeq   uint64
	applied   uint64
	inflight  int
	status    Status
	listeners []func()
}

type subscription struct {
	owner  string
	sub    backend.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// release stops the listener and waits for it to exit.
func (s *subscription) release() {
	s.cancel()
	_ = s.sub.Close()
	<-s.done
}

func New(store backend.Storage, realtime backend.Realtime, opts Options, log logger.Logger) *Syncer {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	return &Syncer{
		store:    store,
		realtime: realtime,
		log:      log,
		opts:     opts,
		now:      time.Now,
	}
}

// SetIdentity scopes the syncer to id. Switching users releases the previous
// subscription, empties the cache and, when id is set, subscribes to the new
// owner's changes and performs the initial fetch. ctx bounds the lifetime of
// the subscription, so it should outlive the caller's request.
func (s *Syncer) SetIdentity(ctx context.Context, id *domain.Identity) {
	s.scopeMu.Lock()
	defer s.scopeMu.Unlock()
	if s.closed {
		return
	}
	s.scope = ctx

	s.mu.Lock()
	if domain.SameUser(s.identity, id) {
		s.identity = id
		s.mu.Unlock()
		return
	}
	s.identity = id
	s.cache = nil
	s.applied = s.nextSeq // anything in flight now belongs to the previous scope
	s.status = Status{State: domain.SyncIdle}
	s.mu.Unlock()

	if s.sub != nil {
		s.sub.release()
		s.log.Debug("released change subscription", logger.String("owner", s.sub.owner))
		s.sub = nil
	}
	s.notify()

	if id == nil {
		return
	}
	s.subscribeLocked(ctx, id)
	if err := s.Refresh(ctx); err != nil {
		s.log.Warn("initial bookmark fetch failed", logger.Error(err))
	}
}

// Resync re-opens a lost subscription and refreshes. It is a no-op without
// identity. The subscription lives in the context given to SetIdentity; ctx
// only bounds the refresh.
func (s *Syncer) Resync(ctx context.Context) error {
	s.scopeMu.Lock()
	if s.closed {
		s.scopeMu.Unlock()
		return nil
	}
	id := s.Identity()
	if id != nil && !s.Status().Subscribed {
		if s.sub != nil {
			s.sub.release()
			s.sub = nil
		}
		scope := s.scope
		if scope == nil {
			scope = ctx
		}
		s.subscribeLocked(scope, id)
	}
	s.scopeMu.Unlock()
	return s.Refresh(ctx)
}

// Refresh replaces the cache with the owner's bookmarks. The result is only
// applied if no newer refresh was applied meanwhile and the user is unchanged.
func (s *Syncer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	id := s.identity
	if id == nil {
		s.mu.Unlock()
		return nil
	}
	s.nextSeq++
	seq := s.nextSeq
	s.inflight++
	if s.status.State != domain.SyncError {
		s.status.State = domain.SyncRefreshing
	}
	s.mu.Unlock()

	rows, err := s.fetch(ctx, id.ID)

	s.mu.Lock()
	s.inflight--
	if !domain.SameUser(s.identity, id) || seq <= s.applied {
		s.settleLocked()
		s.mu.Unlock()
		s.log.Debug("discarding stale refresh", logger.Uint64("seq", seq))
		return nil
	}
	if err != nil {
		s.status.State = domain.SyncError
		s.status.LastError = err.Error()
		s.mu.Unlock()
		s.notify()
		return err
	}

	s.applied = seq
	s.cache = domain.Dedupe(rows)
	s.status.LastRefresh = s.now()
	if s.status.Subscribed {
		s.status.LastError = ""
		s.status.State = domain.SyncIdle
	}
	s.settleLocked()
	s.mu.Unlock()

	s.notify()
	return nil
}

// settleLocked leaves the refreshing state once nothing is in flight.
func (s *Syncer) settleLocked() {
	if s.inflight == 0 && s.status.State == domain.SyncRefreshing {
		s.status.State = domain.SyncIdle
	}
}

// Bookmarks returns a copy of the cache, newest first.
func (s *Syncer) Bookmarks() []domain.Bookmark {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Bookmark(nil), s.cache...)
}

func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Identity returns the identity the cache is scoped to.
func (s *Syncer) Identity() *domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// OnChange registers fn, called after the cache or status changed.
func (s *Syncer) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Close releases the subscription. Later identity changes are ignored.
func (s *Syncer) Close() error {
	s.scopeMu.Lock()
	defer s.scopeMu.Unlock()
	s.closed = true
	if s.sub != nil {
		s.sub.release()
		s.sub = nil
	}
	return nil
}

func (s *Syncer) fetch(ctx context.Context, owner string) ([]domain.Bookmark, error) {
	wait := s.opts.Backoff
	var err error
	for attempt := 1; attempt <= s.opts.Attempts; attempt++ {
		var rows []domain.Bookmark
		rows, err = s.store.Select(ctx, backend.BookmarksOf(owner))
		if err == nil {
			return rows, nil
		}
		if ctx.Err() != nil || errors.Is(err, backend.ErrUnknownTable) || attempt == s.opts.Attempts {
			break
		}

		s.log.Warn("bookmark fetch failed, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("next_retry_in", wait),
			logger.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("fetch bookmarks: %w", ctx.Err())
		case <-timer.C:
		}
		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
	return nil, fmt.Errorf("fetch bookmarks: %w", err)
}

// subscribeLocked opens the owner's change feed. scopeMu must be held.
func (s *Syncer) subscribeLocked(ctx context.Context, id *domain.Identity) {
	sub, err := s.realtime.Subscribe(ctx, domain.TableBookmarks, backend.Filter{OwnerID: id.ID}, domain.AllChanges)
	if err != nil {
		s.log.Warn("change subscription failed", logger.String("owner", id.ID), logger.Error(err))
		s.mu.Lock()
		s.status.State = domain.SyncError
		s.status.LastError = fmt.Sprintf("live updates unavailable: %v", err)
		s.status.Subscribed = false
		s.mu.Unlock()
		s.notify()
		return
	}

	lctx, cancel := context.WithCancel(ctx)
	s.sub = &subscription{owner: id.ID, sub: sub, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.status.Subscribed = true
	if s.status.State == domain.SyncError {
		s.status.State = domain.SyncIdle
		s.status.LastError = ""
	}
	s.mu.Unlock()

	go s.listen(lctx, id, s.sub)
	s.log.Debug("subscribed to changes", logger.String("owner", id.ID))
}

func (s *Syncer) listen(ctx context.Context, id *domain.Identity, sc *subscription) {
	defer close(sc.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sc.sub.Events():
			if !ok {
				if ctx.Err() == nil {
					s.lost(id, sc.sub.Err())
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.log.Debug("change received",
				logger.String("type", string(ev.Type)),
				logger.String("id", ev.RecordID))
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("refresh after change failed", logger.Error(err))
			}
		}
	}
}

// lost records that the feed ended on its own. Cached rows stay visible.
func (s *Syncer) lost(id *domain.Identity, err error) {
	reason := "live updates stopped"
	if err != nil {
		reason = fmt.Sprintf("live updates stopped: %v", err)
	}

	s.mu.Lock()
	if !domain.SameUser(s.identity, id) {
		s.mu.Unlock()
		return
	}
	s.status.Subscribed = false
	s.status.State = domain.SyncError
	s.status.LastError = reason
	s.mu.Unlock()

	s.log.Warn("change subscription closed", logger.String("owner", id.ID), logger.Error(err))
	s.notify()
}

func (s *Syncer) notify() {
	s.mu.Lock()
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}
