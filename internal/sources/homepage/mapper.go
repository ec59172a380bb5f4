package homepage

import "sort"

// Flatten turns the nested Homepage structure into a list of entries.
//
// The title is the bookmark name (Abbr is only used when the name is empty).
// Entries without href are dropped since add would skip them anyway.
// Output is ordered by file position of the category, then bookmark name.
func Flatten(config BookmarksConfig) []Entry {
	entries := make([]Entry, 0)

	for _, category := range config {
		names := make([]string, 0, len(category))
		for name := range category {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, categoryName := range names {
			for _, bookmarkMap := range category[categoryName] {
				titles := make([]string, 0, len(bookmarkMap))
				for title := range bookmarkMap {
					titles = append(titles, title)
				}
				sort.Strings(titles)

				for _, title := range titles {
					list := bookmarkMap[title]
					if len(list) == 0 {
						continue
					}
					entry := list[0] // homepage wraps each bookmark in a one-item list
					if entry.Href == "" {
						continue
					}
					if title == "" {
						title = entry.Abbr
					}
					entries = append(entries, Entry{
						Category: categoryName,
						Title:    title,
						URL:      entry.Href,
					})
				}
			}
		}
	}

	return entries
}
