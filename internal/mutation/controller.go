// Package mutation holds the dashboard's interaction state (selection, input
// fields, menu) and issues the writes. Writes never touch the bookmark cache
// directly; the cache catches up through the change subscription.
package mutation

import (
	"context"
	"sort"
	"sync"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// Refresher forces a cache refresh after a bulk delete.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Inputs are the values of the add form.
type Inputs struct {
	Title string
	URL   string
}

// Controller is safe for concurrent use.
type Controller struct {
	store     backend.Storage
	refresher Refresher
	log       logger.Logger

	mu        sync.Mutex
	identity  *domain.Identity
	selected  map[string]struct{}
	inputs    Inputs
	menuOpen  bool
	listeners []func()
}

func New(store backend.Storage, refresher Refresher, log logger.Logger) *Controller {
	return &Controller{
		store:     store,
		refresher: refresher,
		log:       log,
		selected:  make(map[string]struct{}),
	}
}

// SetIdentity scopes writes to id. The selection and the menu are reset when
// the user changes or signs out.
func (c *Controller) SetIdentity(id *domain.Identity) {
	c.mu.Lock()
	changed := !domain.SameUser(c.identity, id)
	c.identity = id
	if changed {
		c.selected = make(map[string]struct{})
		c.menuOpen = false
	}
	c.mu.Unlock()

	if changed {
		c.notify()
	}
}

// Toggle flips the membership of id in the selection.
func (c *Controller) Toggle(id string) {
	c.mu.Lock()
	if _, ok := c.selected[id]; ok {
		delete(c.selected, id)
	} else {
		c.selected[id] = struct{}{}
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) IsSelected(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.selected[id]
	return ok
}

// Selected returns the selected ids in ascending order.
func (c *Controller) Selected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedLocked()
}

func (c *Controller) selectedLocked() []string {
	out := make([]string, 0, len(c.selected))
	for id := range c.selected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Controller) SetTitle(title string) {
	c.mu.Lock()
	c.inputs.Title = title
	c.mu.Unlock()
}

func (c *Controller) SetURL(url string) {
	c.mu.Lock()
	c.inputs.URL = url
	c.mu.Unlock()
}

func (c *Controller) Inputs() Inputs {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputs
}

// Add inserts a bookmark for the current user with title and url as given.
// An empty field or a missing identity skips the write and leaves the inputs
// as they are. Once the insert is issued the inputs are cleared, whatever its
// outcome.
func (c *Controller) Add(ctx context.Context, title, url string) domain.Result {
	c.mu.Lock()
	id := c.identity
	c.mu.Unlock()

	switch {
	case title == "" || url == "":
		return domain.Skipped("title and url are required")
	case id == nil:
		return domain.Skipped("not signed in")
	}

	err := c.store.Insert(ctx, domain.TableBookmarks, domain.NewBookmark{
		Title:   title,
		URL:     url,
		OwnerID: id.ID,
	})

	c.mu.Lock()
	c.inputs = Inputs{}
	c.mu.Unlock()
	c.notify()

	if err != nil {
		c.log.Warn("add bookmark failed", logger.String("url", url), logger.Error(err))
		return domain.Failed("add bookmark", err)
	}
	return domain.OK()
}

// DeleteSelected removes every selected bookmark in one request, then clears
// the selection, closes the menu and refreshes the cache. An empty selection
// or a missing identity issues nothing.
func (c *Controller) DeleteSelected(ctx context.Context) domain.Result {
	c.mu.Lock()
	id := c.identity
	ids := c.selectedLocked()
	c.mu.Unlock()

	switch {
	case len(ids) == 0:
		return domain.Skipped("nothing selected")
	case id == nil:
		return domain.Skipped("not signed in")
	}

	err := c.store.Delete(ctx, domain.TableBookmarks, ids)

	c.mu.Lock()
	c.selected = make(map[string]struct{})
	c.menuOpen = false
	c.mu.Unlock()
	c.notify()

	// the change feed will refresh too; this one covers a lagging or lost feed
	if rerr := c.refresher.Refresh(ctx); rerr != nil {
		c.log.Warn("refresh after delete failed", logger.Error(rerr))
	}

	if err != nil {
		c.log.Warn("delete bookmarks failed", logger.Int("count", len(ids)), logger.Error(err))
		return domain.Failed("delete bookmarks", err)
	}
	c.log.Info("deleted bookmarks", logger.Int("count", len(ids)))
	return domain.OK()
}

func (c *Controller) ToggleMenu() {
	c.mu.Lock()
	c.menuOpen = !c.menuOpen
	c.mu.Unlock()
	c.notify()
}

// DismissMenu closes the menu and drops the selection.
func (c *Controller) DismissMenu() {
	c.mu.Lock()
	c.menuOpen = false
	c.selected = make(map[string]struct{})
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) MenuOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.menuOpen
}

// OnChange registers fn, called after any state change.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) notify() {
	c.mu.Lock()
	listeners := append([]func(){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}
