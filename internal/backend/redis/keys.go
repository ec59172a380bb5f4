package redis

const (
	keyPrefixBookmark = "marks:bookmark:"
	keyPrefixOwner    = "marks:bookmarks:"
	keyPrefixChannel  = "marks:changes:"
)

// BookmarkKey holds the JSON document of one bookmark.
func BookmarkKey(id string) string {
	return keyPrefixBookmark + id
}

// OwnerKey is the sorted set of an owner's bookmark ids, scored by creation time.
func OwnerKey(owner string) string {
	return keyPrefixOwner + owner
}

// ChannelKey is the pub/sub channel carrying an owner's change events.
func ChannelKey(owner string) string {
	return keyPrefixChannel + owner
}
