package domain

import (
	"sort"
	"time"
)

// TableBookmarks is the name of the remote table holding bookmarks.
const TableBookmarks = "bookmarks"

// Bookmark represents a saved link owned by a single identity.
//
// Bookmarks are created and deleted but never edited in place.
type Bookmark struct {
	// ─────────────────────────────
	// Identity (immutable)
	// ─────────────────────────────

	// ID is the unique identifier assigned by the backend.
	ID string `json:"id"`

	// OwnerID references the identity that owns the bookmark.
	// A user only ever observes bookmarks they own.
	OwnerID string `json:"user_id"`

	// ─────────────────────────────
	// Content
	// ─────────────────────────────

	// Title is the human label shown in the list.
	Title string `json:"title"`

	// URL is the link target.
	// Example: https://go.dev/doc/
	URL string `json:"url"`

	// ─────────────────────────────
	// Metadata
	// ─────────────────────────────

	// CreatedAt is set by the backend on insert and drives list ordering.
	CreatedAt time.Time `json:"created_at"`
}

// NewBookmark is the insert payload for a bookmark.
type NewBookmark struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	OwnerID string `json:"user_id"`
}

// SortNewestFirst orders bookmarks by creation time descending.
// Ties are broken by ID so the order is stable across refreshes.
func SortNewestFirst(bookmarks []Bookmark) {
	sort.SliceStable(bookmarks, func(i, j int) bool {
		a, b := bookmarks[i], bookmarks[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

// Dedupe drops repeated ids, keeping the first occurrence.
func Dedupe(bookmarks []Bookmark) []Bookmark {
	seen := make(map[string]struct{}, len(bookmarks))
	out := make([]Bookmark, 0, len(bookmarks))
	for _, b := range bookmarks {
		if _, ok := seen[b.ID]; ok {
			continue
		}
		seen[b.ID] = struct{}{}
		out = append(out, b)
	}
	return out
}
