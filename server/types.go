package server

import (
	"time"

	"github.com/inkwell-social/inkwell/models"
)

// View types are the cached and serialized shapes of read results. They are
// what goes into the read cache, so they must never embed anything that
// should not leave the process (password hashes, OAuth ids).

type PostView struct {
	ID        uint                `json:"id"`
	Title     string              `json:"title,omitempty"`
	Content   string              `json:"content"`
	Author    models.UserSummary  `json:"author"`
	Image     string              `json:"image,omitempty"`
	Tags      []string            `json:"tags,omitempty"`
	Category  string              `json:"category,omitempty"`
	Likes     int                 `json:"likes"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

func postView(p *models.Post) PostView {
	v := PostView{
		ID:        p.ID,
		Title:     p.Title,
		Content:   p.Content,
		Image:     p.Image,
		Tags:      p.Tags,
		Likes:     len(p.Likes),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if p.Author != nil {
		v.Author = p.Author.Summary()
	}
	if p.Category != nil {
		v.Category = p.Category.Name
	}
	return v
}

func postViews(posts []models.Post) []PostView {
	out := make([]PostView, len(posts))
	for i := range posts {
		out[i] = postView(&posts[i])
	}
	return out
}

type PostListSnapshot struct {
	Posts []PostView `json:"posts"`
}

type ProfileSnapshot struct {
	Profile   models.UserSummary `json:"profile"`
	Following int64              `json:"following"`
	Followers int64              `json:"followers"`
	IsPremium bool               `json:"isPremium"`
	PostCount int                `json:"postCount"`
	Posts     []PostView         `json:"posts"`
}

type CommentView struct {
	ID        uint               `json:"id"`
	PostID    uint               `json:"post"`
	Author    models.UserSummary `json:"author"`
	Content   string             `json:"content"`
	CreatedAt time.Time          `json:"createdAt"`
}

func commentView(cm *models.Comment) CommentView {
	v := CommentView{
		ID:        cm.ID,
		PostID:    cm.PostID,
		Content:   cm.Content,
		CreatedAt: cm.CreatedAt,
	}
	if cm.Author != nil {
		v.Author = cm.Author.Summary()
	}
	return v
}
