// Package memory is an in-process backend. It serves development runs
// (MARKS_BACKEND=memory) and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/domain"
)

// Backend stores bookmarks in a map and fans change events out to
// subscribers registered per owner.
type Backend struct {
	mu        sync.RWMutex
	bookmarks map[string]domain.Bookmark // ID -> Bookmark
	subs      map[string]map[*subscriber]struct{}
	now       func() time.Time
	newID     func() string
}

type subscriber struct {
	owner string
	types []domain.ChangeType
	feed  *backend.Feed
}

// Option customizes a Backend.
type Option func(*Backend)

// WithClock sets the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithIDs sets the id generator (uuid by default).
func WithIDs(next func() string) Option {
	return func(b *Backend) { b.newID = next }
}

// New creates an empty memory backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		bookmarks: make(map[string]domain.Bookmark),
		subs:      make(map[string]map[*subscriber]struct{}),
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ backend.Backend = (*Backend)(nil)

// Seed inserts rows as-is, without notifications.
func (b *Backend) Seed(rows ...domain.Bookmark) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, row := range rows {
		b.bookmarks[row.ID] = row
	}
}

// Select returns the owner's bookmarks, newest first.
func (b *Backend) Select(ctx context.Context, q backend.Query) ([]domain.Bookmark, error) {
	if err := backend.CheckTable(q.Table); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	out := make([]domain.Bookmark, 0, len(b.bookmarks))
	for _, bm := range b.bookmarks {
		if q.OwnerID != "" && bm.OwnerID != q.OwnerID {
			continue
		}
		out = append(out, bm)
	}
	b.mu.RUnlock()

	domain.SortNewestFirst(out)
	if !q.Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// Insert stores row with a fresh id and notifies the owner's subscribers.
func (b *Backend) Insert(ctx context.Context, table string, row domain.NewBookmark) error {
	if err := backend.CheckTable(table); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	bm := domain.Bookmark{
		ID:        b.newID(),
		Title:     row.Title,
		URL:       row.URL,
		OwnerID:   row.OwnerID,
		CreatedAt: b.now(),
	}

	b.mu.Lock()
	b.bookmarks[bm.ID] = bm
	b.mu.Unlock()

	b.notify(domain.ChangeEvent{Type: domain.ChangeInsert, Table: table, RecordID: bm.ID, OwnerID: bm.OwnerID})
	return nil
}

// Delete removes ids that exist; unknown ids are ignored.
func (b *Backend) Delete(ctx context.Context, table string, ids []string) error {
	if err := backend.CheckTable(table); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	removed := make([]domain.Bookmark, 0, len(ids))
	for _, id := range ids {
		if bm, ok := b.bookmarks[id]; ok {
			delete(b.bookmarks, id)
			removed = append(removed, bm)
		}
	}
	b.mu.Unlock()

	for _, bm := range removed {
		b.notify(domain.ChangeEvent{Type: domain.ChangeDelete, Table: table, RecordID: bm.ID, OwnerID: bm.OwnerID})
	}
	return nil
}

func (b *Backend) Ping(ctx context.Context) error { return ctx.Err() }

// Subscribe registers a feed for filter.OwnerID.
func (b *Backend) Subscribe(ctx context.Context, table string, filter backend.Filter, types []domain.ChangeType) (backend.Subscription, error) {
	if err := backend.CheckTable(table); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &subscriber{owner: filter.OwnerID, types: types}
	s.feed = backend.NewFeed(backend.DefaultFeedBuffer, func() error {
		b.remove(s)
		return nil
	})

	b.mu.Lock()
	if b.subs[s.owner] == nil {
		b.subs[s.owner] = make(map[*subscriber]struct{})
	}
	b.subs[s.owner][s] = struct{}{}
	b.mu.Unlock()

	return s.feed, nil
}

// Subscribers returns how many live subscriptions exist for owner.
func (b *Backend) Subscribers(owner string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[owner])
}

// Emit pushes ev to matching subscribers, as if another client changed data.
func (b *Backend) Emit(ev domain.ChangeEvent) {
	b.notify(ev)
}

// Close ends every open subscription.
func (b *Backend) Close() error {
	b.mu.RLock()
	all := make([]*subscriber, 0)
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range all {
		_ = s.feed.Close()
	}
	return nil
}

func (b *Backend) notify(ev domain.ChangeEvent) {
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs[ev.OwnerID]))
	for s := range b.subs[ev.OwnerID] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if backend.Wants(s.types, ev) {
			s.feed.Publish(ev)
		}
	}
}

func (b *Backend) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[s.owner], s)
	if len(b.subs[s.owner]) == 0 {
		delete(b.subs, s.owner)
	}
}
