package syncer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/backend/backendtest"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

var (
	alice = &domain.Identity{ID: "alice"}
	bob   = &domain.Identity{ID: "bob"}
	t0    = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
)

func row(id, owner string, age time.Duration) domain.Bookmark {
	return domain.Bookmark{ID: id, OwnerID: owner, Title: "title " + id, URL: "https://example.com/" + id, CreatedAt: t0.Add(-age)}
}

func newSyncer(t *testing.T, store *backendtest.Store) *Syncer {
	t.Helper()
	s := New(store, store, Options{Attempts: 3, Backoff: time.Millisecond}, logger.NewNop())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ids(rows []domain.Bookmark) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
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

func TestRefreshMirrorsOwnerRowsNewestFirst(t *testing.T) {
	store := backendtest.NewStore(
		row("a1", "alice", 3*time.Hour),
		row("a2", "alice", time.Hour),
		row("a3", "alice", 2*time.Hour),
		row("b1", "bob", 0),
	)
	s := newSyncer(t, store)

	s.SetIdentity(context.Background(), alice)

	if got, want := ids(s.Bookmarks()), []string{"a2", "a3", "a1"}; !equal(got, want) {
		t.Errorf("Bookmarks() = %v, want %v", got, want)
	}
	st := s.Status()
	if st.State != domain.SyncIdle || !st.Subscribed || st.LastRefresh.IsZero() {
		t.Errorf("Status() = %+v", st)
	}
}

// dupStore returns the same row twice.
type dupStore struct{}

func (dupStore) Select(context.Context, backend.Query) ([]domain.Bookmark, error) {
	r := row("x", "alice", 0)
	return []domain.Bookmark{r, row("y", "alice", time.Minute), r}, nil
}

func (dupStore) Insert(context.Context, string, domain.NewBookmark) error { return nil }
func (dupStore) Delete(context.Context, string, []string) error           { return nil }
func (dupStore) Ping(context.Context) error                               { return nil }

func TestRefreshDeduplicates(t *testing.T) {
	store := backendtest.NewStore()
	s := New(dupStore{}, store, Options{Attempts: 1}, logger.NewNop())
	defer s.Close()

	s.SetIdentity(context.Background(), alice)
	if got := ids(s.Bookmarks()); !equal(got, []string{"x", "y"}) {
		t.Errorf("Bookmarks() = %v, want [x y]", got)
	}
}

func TestRefreshWithoutIdentityIsNoop(t *testing.T) {
	store := backendtest.NewStore(row("a1", "alice", 0))
	s := newSyncer(t, store)

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if store.Selects() != 0 {
		t.Errorf("Select called %d times without identity", store.Selects())
	}
	if len(s.Bookmarks()) != 0 {
		t.Error("cache should stay empty")
	}
}

func TestStaleRefreshDiscarded(t *testing.T) {
	store := backendtest.NewStore(row("a1", "alice", time.Hour))
	s := newSyncer(t, store)
	s.SetIdentity(context.Background(), alice) // select #1

	gate := make(chan struct{})
	entered := make(chan struct{})
	store.BeforeSelect(func(call int) {
		if call == 2 {
			close(entered)
			<-gate
		}
	})

	slow := make(chan error, 1)
	go func() { slow <- s.Refresh(context.Background()) }() // select #2, held
	<-entered

	if err := s.Refresh(context.Background()); err != nil { // select #3, applied
		t.Fatal(err)
	}
	store.Seed(row("a2", "alice", 0))
	close(gate)
	if err := <-slow; err != nil {
		t.Fatal(err)
	}

	if got := ids(s.Bookmarks()); !equal(got, []string{"a1"}) {
		t.Errorf("Bookmarks() = %v, the older request must not overwrite the newer one", got)
	}
	if s.Status().State != domain.SyncIdle {
		t.Errorf("State = %v, want idle", s.Status().State)
	}
}

func TestChangeEventTriggersRefresh(t *testing.T) {
	store := backendtest.NewStore()
	s := newSyncer(t, store)
	var changes atomic.Int32
	s.OnChange(func() { changes.Add(1) })

	s.SetIdentity(context.Background(), alice)
	before := changes.Load()

	err := store.Backend.Insert(context.Background(), domain.TableBookmarks,
		domain.NewBookmark{Title: "Go", URL: "https://go.dev", OwnerID: "alice"})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(s.Bookmarks()) == 1 })
	if changes.Load() <= before {
		t.Error("listeners not notified after refresh")
	}
}

func TestSignOutReleasesSubscription(t *testing.T) {
	store := backendtest.NewStore(row("a1", "alice", 0))
	s := newSyncer(t, store)

	s.SetIdentity(context.Background(), alice)
	if store.Subscribers("alice") != 1 {
		t.Fatalf("Subscribers() = %d, want 1", store.Subscribers("alice"))
	}

	s.SetIdentity(context.Background(), nil)
	if store.Subscribers("alice") != 0 {
		t.Errorf("subscription still open after sign out")
	}
	if len(s.Bookmarks()) != 0 {
		t.Error("cache should be emptied on sign out")
	}

	selects := store.Selects()
	store.Emit(domain.ChangeEvent{Type: domain.ChangeInsert, Table: domain.TableBookmarks, RecordID: "z", OwnerID: "alice"})
	time.Sleep(50 * time.Millisecond)
	if store.Selects() != selects {
		t.Errorf("a notification after release triggered %d fetches", store.Selects()-selects)
	}
}

func TestIdentitySwitchRescopes(t *testing.T) {
	store := backendtest.NewStore(row("a1", "alice", 0), row("b1", "bob", 0))
	s := newSyncer(t, store)

	s.SetIdentity(context.Background(), alice)
	s.SetIdentity(context.Background(), bob)

	subs := store.Subscriptions()
	if len(subs) != 2 || subs[0].OwnerID != "alice" || subs[1].OwnerID != "bob" {
		t.Errorf("subscriptions = %+v", subs)
	}
	if store.Subscribers("alice") != 0 || store.Subscribers("bob") != 1 {
		t.Errorf("subscribers alice=%d bob=%d", store.Subscribers("alice"), store.Subscribers("bob"))
	}
	if got := ids(s.Bookmarks()); !equal(got, []string{"b1"}) {
		t.Errorf("Bookmarks() = %v, want [b1]", got)
	}

	// same user again keeps the subscription
	s.SetIdentity(context.Background(), &domain.Identity{ID: "bob", Token: "new"})
	if len(store.Subscriptions()) != 2 {
		t.Error("re-announcing the same user must not resubscribe")
	}
}

func TestRefreshRetries(t *testing.T) {
	store := backendtest.NewStore(row("a1", "alice", 0))
	boom := errors.New("connection reset")
	store.FailSelects(boom, boom)
	s := newSyncer(t, store)

	s.SetIdentity(context.Background(), alice)

	if store.Selects() != 3 {
		t.Errorf("Select called %d times, want 3", store.Selects())
	}
	if len(s.Bookmarks()) != 1 || s.Status().State != domain.SyncIdle {
		t.Errorf("cache=%v status=%+v", s.Bookmarks(), s.Status())
	}
}

func TestRefreshGivesUp(t *testing.T) {
	store := backendtest.NewStore(row("a1", "alice", 0))
	boom := errors.New("connection reset")
	store.FailSelects(boom, boom, boom)
	s := newSyncer(t, store)

	s.SetIdentity(context.Background(), alice)

	st := s.Status()
	if st.State != domain.SyncError || st.LastError == "" {
		t.Errorf("Status() = %+v, want error", st)
	}

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("manual Refresh() error = %v", err)
	}
	if st := s.Status(); st.State != domain.SyncIdle || st.LastError != "" {
		t.Errorf("Status() after recovery = %+v", st)
	}
}

func TestSubscribeFailureSurfaced(t *testing.T) {
	store := backendtest.NewStore(row("a1", "alice", 0))
	store.FailSubscribe(errors.New("realtime down"))
	s := newSyncer(t, store)

	s.SetIdentity(context.Background(), alice)

	st := s.Status()
	if st.State != domain.SyncError || st.Subscribed {
		t.Errorf("Status() = %+v, want error without subscription", st)
	}
	if len(s.Bookmarks()) != 1 {
		t.Error("initial fetch should still run")
	}

	store.FailSubscribe(nil)
	if err := s.Resync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st := s.Status(); st.State != domain.SyncIdle || !st.Subscribed {
		t.Errorf("Status() after Resync = %+v", st)
	}
}

func TestResyncSubscriptionOutlivesCallerContext(t *testing.T) {
	store := backendtest.NewStore()
	store.FailSubscribe(errors.New("realtime down"))
	s := newSyncer(t, store)
	s.SetIdentity(context.Background(), alice)

	store.FailSubscribe(nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Resync(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	err := store.Backend.Insert(context.Background(), domain.TableBookmarks,
		domain.NewBookmark{Title: "Go", URL: "https://go.dev", OwnerID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(s.Bookmarks()) == 1 })
	if !s.Status().Subscribed {
		t.Error("subscription should survive the resync caller's context")
	}
}

func TestLostFeedSurfaced(t *testing.T) {
	store := backendtest.NewStore(row("a1", "alice", 0))
	s := newSyncer(t, store)
	s.SetIdentity(context.Background(), alice)

	_ = store.Backend.Close()

	waitFor(t, func() bool { return s.Status().State == domain.SyncError })
	if s.Status().Subscribed {
		t.Error("Subscribed should be false after the feed ended")
	}
	if len(s.Bookmarks()) != 1 {
		t.Error("stale rows should stay visible")
	}
}

func TestCloseReleases(t *testing.T) {
	store := backendtest.NewStore()
	s := New(store, store, Options{}, logger.NewNop())
	s.SetIdentity(context.Background(), alice)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if store.Subscribers("alice") != 0 {
		t.Error("Close() should release the subscription")
	}
	s.SetIdentity(context.Background(), bob)
	if store.Subscribers("bob") != 0 {
		t.Error("closed syncer must not subscribe")
	}
}
