package readcache

import "fmt"

// Key derivation and the invalidation dependency sets live together in this
// file, so that adding a new cached view forces the write-path key sets to be
// revisited in the same place. Handlers must invalidate through a KeysFor
// function, never an inline key list.

func PostKey(postID uint) string {
	return fmt.Sprintf("post/%d", postID)
}

func PostListKey() string {
	return "posts/all"
}

func ProfileKey(userID uint) string {
	return fmt.Sprintf("profile/%d", userID)
}

// KeysForPostWrite is the complete invalidation set for any mutation of a
// post owned by authorID: the post itself, the aggregate listing that embeds
// it, and the author's profile view (which embeds the author's posts).
func KeysForPostWrite(postID, authorID uint) []string {
	return []string{
		PostKey(postID),
		PostListKey(),
		ProfileKey(authorID),
	}
}

// KeysForProfileWrite covers a mutation of the user record itself. Author
// summaries are embedded in the post listing AND in every cached view of the
// user's own posts, so callers must enumerate those post ids.
func KeysForProfileWrite(userID uint, postIDs []uint) []string {
	keys := []string{
		ProfileKey(userID),
		PostListKey(),
	}
	for _, pid := range postIDs {
		keys = append(keys, PostKey(pid))
	}
	return keys
}
