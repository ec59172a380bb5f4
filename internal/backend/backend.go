// Package backend describes the managed service the client talks to:
// hosted authentication, relational storage and a change-notification channel.
//
// Concrete implementations live in the memory, redis and postgres
// subpackages (storage + realtime) and in internal/auth (authentication).
package backend

import (
	"context"
	"errors"

	"github.com/MrSnakeDoc/marks/internal/domain"
)

var (
	// ErrNotAuthenticated is returned when an operation needs a session and none exists.
	ErrNotAuthenticated = errors.New("backend: not authenticated")
	// ErrUnknownTable is returned for any table other than domain.TableBookmarks.
	ErrUnknownTable = errors.New("backend: unknown table")
)

// Auth is the hosted authentication contract.
type Auth interface {
	// CurrentUser resolves the identity stored in the session store, or nil.
	CurrentUser(ctx context.Context) (*domain.Identity, error)
	// OnAuthStateChange streams identity changes until ctx is done.
	OnAuthStateChange(ctx context.Context) (<-chan domain.AuthEvent, error)
	// SignInWithOAuth starts the external flow and returns the URL to visit.
	SignInWithOAuth(ctx context.Context, provider string) (string, error)
	// SignOut invalidates the remote session.
	SignOut(ctx context.Context) error
}

// Query selects rows of a table.
type Query struct {
	Table      string
	OwnerID    string // equality filter on the owner column
	OrderBy    string // column name, "created_at" for bookmarks
	Descending bool
}

// BookmarksOf is the query used by the store sync: every bookmark owned by
// ownerID, newest first.
func BookmarksOf(ownerID string) Query {
	return Query{
		Table:      domain.TableBookmarks,
		OwnerID:    ownerID,
		OrderBy:    "created_at",
		Descending: true,
	}
}

// Storage is the relational storage contract.
type Storage interface {
	Select(ctx context.Context, q Query) ([]domain.Bookmark, error)
	Insert(ctx context.Context, table string, row domain.NewBookmark) error
	Delete(ctx context.Context, table string, ids []string) error
	Ping(ctx context.Context) error
}

// Filter scopes a subscription server-side.
type Filter struct {
	OwnerID string
}

// Subscription is a live change-notification stream.
// Events is closed once the subscription ends, for any reason.
type Subscription interface {
	Events() <-chan domain.ChangeEvent
	// Err reports why the stream ended; nil after a clean Close.
	Err() error
	// Close unsubscribes. It is safe to call more than once.
	Close() error
}

// Realtime is the change-notification contract.
type Realtime interface {
	Subscribe(ctx context.Context, table string, filter Filter, types []domain.ChangeType) (Subscription, error)
}

// Backend groups storage and realtime, which every data backend provides together.
type Backend interface {
	Storage
	Realtime
	Close() error
}

// Wants reports whether ev matches the requested change types.
// An empty list means every type.
func Wants(types []domain.ChangeType, ev domain.ChangeEvent) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == ev.Type {
			return true
		}
	}
	return false
}

// CheckTable returns ErrUnknownTable for tables the backends do not serve.
func CheckTable(table string) error {
	if table != domain.TableBookmarks {
		return ErrUnknownTable
	}
	return nil
}
