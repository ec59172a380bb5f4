package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/domain"
)

func newTestBackend() *Backend {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	return New(
		WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			n++
			return base.Add(time.Duration(n) * time.Second)
		}),
		WithIDs(func() string { return fmt.Sprintf("bm-%d", n) }),
	)
}

func TestInsertSelectNewestFirst(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend()

	for _, title := range []string{"first", "second", "third"} {
		if err := b.Insert(ctx, domain.TableBookmarks, domain.NewBookmark{Title: title, URL: "https://" + title, OwnerID: "alice"}); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	_ = b.Insert(ctx, domain.TableBookmarks, domain.NewBookmark{Title: "other", URL: "https://other", OwnerID: "bob"})

	rows, err := b.Select(ctx, backend.BookmarksOf("alice"))
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Select() returned %d rows, want 3 (owner scoped)", len(rows))
	}
	if rows[0].Title != "third" || rows[2].Title != "first" {
		t.Errorf("Select() order = %s..%s, want newest first", rows[0].Title, rows[2].Title)
	}
}

func TestUnknownTable(t *testing.T) {
	b := New()
	if _, err := b.Select(context.Background(), backend.Query{Table: "users"}); err == nil {
		t.Error("Select() on unknown table should fail")
	}
	if err := b.Insert(context.Background(), "users", domain.NewBookmark{}); err == nil {
		t.Error("Insert() on unknown table should fail")
	}
}

func TestSubscribeScopedToOwner(t *testing.T) {
	ctx := context.Background()
	b := New()

	sub, err := b.Subscribe(ctx, domain.TableBookmarks, backend.Filter{OwnerID: "alice"}, domain.AllChanges)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	_ = b.Insert(ctx, domain.TableBookmarks, domain.NewBookmark{Title: "bob's", URL: "u", OwnerID: "bob"})
	_ = b.Insert(ctx, domain.TableBookmarks, domain.NewBookmark{Title: "alice's", URL: "u", OwnerID: "alice"})

	select {
	case ev := <-sub.Events():
		if ev.OwnerID != "alice" || ev.Type != domain.ChangeInsert {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	select {
	case ev := <-sub.Events():
		t.Errorf("received event for another owner: %+v", ev)
	default:
	}
}

func TestDeleteNotifiesAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	b := New()
	b.Seed(
		domain.Bookmark{ID: "1", Title: "X", OwnerID: "alice"},
		domain.Bookmark{ID: "2", Title: "Y", OwnerID: "alice"},
	)

	sub, _ := b.Subscribe(ctx, domain.TableBookmarks, backend.Filter{OwnerID: "alice"}, []domain.ChangeType{domain.ChangeDelete})
	if b.Subscribers("alice") != 1 {
		t.Fatalf("Subscribers() = %d, want 1", b.Subscribers("alice"))
	}

	if err := b.Delete(ctx, domain.TableBookmarks, []string{"1", "missing"}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	ev := <-sub.Events()
	if ev.RecordID != "1" || ev.Type != domain.ChangeDelete {
		t.Errorf("delete event = %+v", ev)
	}

	rows, _ := b.Select(ctx, backend.BookmarksOf("alice"))
	if len(rows) != 1 || rows[0].ID != "2" {
		t.Errorf("rows after delete = %+v", rows)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if b.Subscribers("alice") != 0 {
		t.Errorf("Subscribers() after Close = %d, want 0", b.Subscribers("alice"))
	}
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	b := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = b.Insert(ctx, domain.TableBookmarks, domain.NewBookmark{Title: fmt.Sprint(i), URL: "u", OwnerID: "alice"})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = b.Select(ctx, backend.BookmarksOf("alice"))
		}()
	}
	wg.Wait()

	rows, _ := b.Select(ctx, backend.BookmarksOf("alice"))
	if len(rows) != 50 {
		t.Errorf("Select() = %d rows, want 50", len(rows))
	}
}
