// Package view turns the client state into the page to show. Build is pure;
// Render writes the page with the embedded HTML template.
package view

import (
	"embed"
	"html/template"
	"io"

	"github.com/MrSnakeDoc/marks/internal/domain"
)

const AppName = "Smart Bookmark Manager"

// Kind tells which of the two views a Page is.
type Kind int

const (
	KindWelcome Kind = iota
	KindDashboard
)

// State is everything the page depends on.
type State struct {
	Identity  *domain.Identity
	Bookmarks []domain.Bookmark
	Selected  []string
	Title     string
	URL       string
	MenuOpen  bool

	SyncError  string // non-empty while the cache may be stale
	Refreshing bool
}

// Page is exactly one of Welcome or Dashboard, according to Kind.
type Page struct {
	Kind      Kind
	AppName   string
	Welcome   *Welcome
	Dashboard *Dashboard
}

type Welcome struct {
	LoginLabel string
	Provider   string
}

type Dashboard struct {
	DisplayName string
	Rows        []Row
	Empty       bool

	Title string
	URL   string

	MenuOpen      bool
	SelectedCount int

	Banner     string
	Refreshing bool
}

type Row struct {
	ID      string
	Title   string
	URL     string
	Checked bool
}

// Build maps s to a page. Without identity it is always the welcome view.
func Build(s State) Page {
	if s.Identity == nil {
		return Page{
			Kind:    KindWelcome,
			AppName: AppName,
			Welcome: &Welcome{LoginLabel: "Continue with Google", Provider: "google"},
		}
	}

	checked := make(map[string]bool, len(s.Selected))
	for _, id := range s.Selected {
		checked[id] = true
	}

	rows := make([]Row, 0, len(s.Bookmarks))
	count := 0
	for _, bm := range s.Bookmarks {
		r := Row{ID: bm.ID, Title: bm.Title, URL: bm.URL, Checked: checked[bm.ID]}
		if r.Checked {
			count++
		}
		rows = append(rows, r)
	}

	return Page{
		Kind:    KindDashboard,
		AppName: AppName,
		Dashboard: &Dashboard{
			DisplayName:   s.Identity.DisplayName(),
			Rows:          rows,
			Empty:         len(rows) == 0,
			Title:         s.Title,
			URL:           s.URL,
			MenuOpen:      s.MenuOpen,
			SelectedCount: count,
			Banner:        s.SyncError,
			Refreshing:    s.Refreshing,
		},
	}
}

//go:embed templates/*.html
var templateFS embed.FS

var page = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Render writes p as a full HTML document.
func Render(w io.Writer, p Page) error {
	return page.ExecuteTemplate(w, "page.html", p)
}
