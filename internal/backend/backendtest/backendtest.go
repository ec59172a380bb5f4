// Package backendtest provides recording fakes of the backend contracts.
package backendtest

import (
	"context"
	"sync"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/backend/memory"
	"github.com/MrSnakeDoc/marks/internal/domain"
)

// Store wraps a memory backend and records every call made to it.
// Errors can be injected per operation.
type Store struct {
	*memory.Backend

	mu          sync.Mutex
	selects     int
	inserts     []domain.NewBookmark
	deletes     [][]string
	subscribes  []backend.Filter
	selectErrs  []error
	insertErr   error
	deleteErr   error
	subErr      error
	beforeQuery func(call int)
}

// NewStore returns a recording store seeded with rows.
func NewStore(rows ...domain.Bookmark) *Store {
	s := &Store{Backend: memory.New()}
	s.Seed(rows...)
	return s
}

var _ backend.Backend = (*Store)(nil)

// FailSelects makes the next len(errs) selects return errs in order.
func (s *Store) FailSelects(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectErrs = append(s.selectErrs, errs...)
}

func (s *Store) FailInsert(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErr = err
}

func (s *Store) FailDelete(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteErr = err
}

func (s *Store) FailSubscribe(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subErr = err
}

// BeforeSelect installs a hook run at the start of every Select with its
// 1-based call number. Hooks may block to reorder concurrent refreshes.
func (s *Store) BeforeSelect(fn func(call int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeQuery = fn
}

func (s *Store) Select(ctx context.Context, q backend.Query) ([]domain.Bookmark, error) {
	s.mu.Lock()
	s.selects++
	call := s.selects
	hook := s.beforeQuery
	var err error
	if len(s.selectErrs) > 0 {
		err = s.selectErrs[0]
		s.selectErrs = s.selectErrs[1:]
	}
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err != nil {
		return nil, err
	}
	return s.Backend.Select(ctx, q)
}

func (s *Store) Insert(ctx context.Context, table string, row domain.NewBookmark) error {
	s.mu.Lock()
	s.inserts = append(s.inserts, row)
	err := s.insertErr
	s.mu.Unlock()

	if err != nil {
		return err
	}
	return s.Backend.Insert(ctx, table, row)
}

func (s *Store) Delete(ctx context.Context, table string, ids []string) error {
	s.mu.Lock()
	s.deletes = append(s.deletes, append([]string(nil), ids...))
	err := s.deleteErr
	s.mu.Unlock()

	if err != nil {
		return err
	}
	return s.Backend.Delete(ctx, table, ids)
}

func (s *Store) Subscribe(ctx context.Context, table string, filter backend.Filter, types []domain.ChangeType) (backend.Subscription, error) {
	s.mu.Lock()
	s.subscribes = append(s.subscribes, filter)
	err := s.subErr
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return s.Backend.Subscribe(ctx, table, filter, types)
}

func (s *Store) Selects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selects
}

func (s *Store) Inserts() []domain.NewBookmark {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.NewBookmark(nil), s.inserts...)
}

// Deletes returns the id lists of every Delete call.
func (s *Store) Deletes() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.deletes...)
}

// Subscriptions returns the filters of every Subscribe call.
func (s *Store) Subscriptions() []backend.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backend.Filter(nil), s.subscribes...)
}
