package homepage

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleBookmarks = `---
- Developer:
    - Github:
        - abbr: GH
          href: https://github.com/
    - Go Docs:
        - abbr: GO
          href: https://go.dev/doc/
- Social:
    - Reddit:
        - icon: reddit.png
          href: {{HOMEPAGE_VAR_REDDIT}}
    - Mastodon:
        - abbr: MA
          href: https://mastodon.social/
`

func TestLoaderLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookmarks.yaml")
	if err := os.WriteFile(path, []byte(sampleBookmarks), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	config, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(config) != 2 {
		t.Fatalf("Load() returned %d categories, want 2", len(config))
	}
}

func TestLoaderLoadFileNotFound(t *testing.T) {
	if _, err := NewLoader("/nonexistent/bookmarks.yaml").Load(); err == nil {
		t.Error("Load() with missing file should return error")
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("- [unclosed")); err == nil {
		t.Error("Parse() should fail on invalid yaml")
	}
}

func TestFlatten(t *testing.T) {
	config, err := Parse([]byte(sampleBookmarks))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	entries := Flatten(config)

	// Reddit's href is a template variable and is blanked, so it is dropped.
	want := []Entry{
		{Category: "Developer", Title: "Github", URL: "https://github.com/"},
		{Category: "Developer", Title: "Go Docs", URL: "https://go.dev/doc/"},
		{Category: "Social", Title: "Mastodon", URL: "https://mastodon.social/"},
	}
	if len(entries) != len(want) {
		t.Fatalf("Flatten() returned %d entries, want %d: %+v", len(entries), len(want), entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}
}
