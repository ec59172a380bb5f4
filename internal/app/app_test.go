package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrSnakeDoc/marks/internal/auth"
	"github.com/MrSnakeDoc/marks/internal/backend/backendtest"
	"github.com/MrSnakeDoc/marks/internal/config"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
	"github.com/MrSnakeDoc/marks/internal/mutation"
	"github.com/MrSnakeDoc/marks/internal/sources/homepage"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		ListenAddr:      "127.0.0.1:0",
		PublicURL:       "http://localhost:8080",
		ShutdownTimeout: time.Second,
		Backend:         config.BackendMemory,
		SessionStore:    config.SessionDisk,
		SessionDir:      t.TempDir(),
		SessionKey:      "default",
		RefreshAttempts: 1,
		JWTSecret:       "0123456789abcdef0123456789abcdef",
		JWTIssuer:       "marks",
		SessionTTL:      time.Hour,
	}
}

func TestNewWithMemoryBackend(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t), logger.NewNop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer a.Close()

	if _, ok := a.sessionStore().(*auth.DiskStore); !ok {
		t.Errorf("sessionStore() = %T, want *auth.DiskStore", a.sessionStore())
	}
	if id, err := a.Session.Resolve(context.Background()); err != nil || id != nil {
		t.Errorf("Resolve() = %v, %v, want no session", id, err)
	}
	a.Close()
}

func TestRunStopsWithContext(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t), logger.NewNop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-a.Session.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("session never became ready")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestImportRequiresSession(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t), logger.NewNop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer a.Close()

	path := filepath.Join(t.TempDir(), "bookmarks.yaml")
	data := "- Dev:\n    - Go:\n        - href: https://go.dev\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := a.Import(context.Background(), path); !errors.Is(err, ErrNotSignedIn) {
		t.Errorf("Import() error = %v, want ErrNotSignedIn", err)
	}
}

func TestImportEntries(t *testing.T) {
	store := backendtest.NewStore()
	c := mutation.New(store, nopRefresher{}, logger.NewNop())
	c.SetIdentity(&domain.Identity{ID: "alice"})

	entries := []homepage.Entry{
		{Category: "Dev", Title: "Go", URL: "https://go.dev"},
		{Category: "Dev", Title: "", URL: "https://pkg.go.dev"},
		{Category: "News", Title: "HN", URL: "https://news.ycombinator.com"},
	}
	rep := importEntries(context.Background(), c, entries, logger.NewNop())

	want := ImportReport{Added: 2, Skipped: 1}
	if rep != want {
		t.Errorf("report = %+v, want %+v", rep, want)
	}
	inserts := store.Inserts()
	if len(inserts) != 2 || inserts[1].Title != "HN" || inserts[1].OwnerID != "alice" {
		t.Errorf("Inserts() = %+v", inserts)
	}
}

func TestImportEntriesCountsFailures(t *testing.T) {
	store := backendtest.NewStore()
	store.FailInsert(errors.New("read-only"))
	c := mutation.New(store, nopRefresher{}, logger.NewNop())
	c.SetIdentity(&domain.Identity{ID: "alice"})

	rep := importEntries(context.Background(), c, []homepage.Entry{{Title: "Go", URL: "https://go.dev"}}, logger.NewNop())
	if rep.Failed != 1 || rep.Added != 0 {
		t.Errorf("report = %+v, want one failure", rep)
	}
}

type nopRefresher struct{}

func (nopRefresher) Refresh(context.Context) error { return nil }
