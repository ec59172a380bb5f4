package homepage

// BookmarkEntry is a single bookmark entry in Homepage's bookmarks.yaml.
type BookmarkEntry struct {
	Icon        string `yaml:"icon"`
	Abbr        string `yaml:"abbr"`
	Href        string `yaml:"href"`
	Description string `yaml:"description"`
}

// BookmarkCategory maps a category name to its bookmarks.
// The YAML structure is: - CategoryName: [ - BookmarkName: [{ icon, abbr, href }] ]
type BookmarkCategory map[string][]map[string][]BookmarkEntry

// BookmarksConfig is the root structure for bookmarks.yaml.
type BookmarksConfig []BookmarkCategory

// Entry is a flattened bookmark ready to be added.
type Entry struct {
	Category string
	Title    string
	URL      string
}
