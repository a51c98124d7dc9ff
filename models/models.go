package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Username       string `gorm:"index"`
	Fullname       string
	Email          string `gorm:"uniqueindex"`
	GoogleID       string `gorm:"index"`
	Password       string `json:"-"`
	ProfilePicture string
	Bio            string
	IsPremium      bool

	// Denormalized follow counters. The edge table (FollowRecord) is the
	// source of truth; graph.Recount rebuilds these.
	Following int64
	Followers int64
}

// UserSummary is the public shape of a user, embedded in posts, comments,
// and follow listings. Never includes the password hash.
type UserSummary struct {
	ID             uint   `json:"id"`
	Username       string `json:"username"`
	Fullname       string `json:"fullname,omitempty"`
	Email          string `json:"email,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
	Bio            string `json:"bio,omitempty"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:             u.ID,
		Username:       u.Username,
		Fullname:       u.Fullname,
		Email:          u.Email,
		ProfilePicture: u.ProfilePicture,
		Bio:            u.Bio,
	}
}

type Category struct {
	gorm.Model
	Name string `gorm:"uniqueindex"`
}

type Post struct {
	gorm.Model
	Title      string
	Content    string
	AuthorID   uint `gorm:"index"`
	Author     *User
	Image      string
	Tags       []string `gorm:"serializer:json"`
	CategoryID uint     `gorm:"index"`
	Category   *Category
	// Likes holds the ids of users who liked the post, set semantics.
	Likes []uint `gorm:"serializer:json"`
}

func (p *Post) LikedBy(userID uint) bool {
	for _, id := range p.Likes {
		if id == userID {
			return true
		}
	}
	return false
}

type Comment struct {
	gorm.Model
	PostID   uint `gorm:"index"`
	AuthorID uint `gorm:"index"`
	Author   *User
	Content  string
}

// FollowRecord is a directed follow edge. The unique index on the pair is
// what makes concurrent duplicate follows safe; membership checks in the
// mutator only exist to report conflicts cleanly. Edges are hard-deleted
// (no DeletedAt) so a re-follow never trips the unique index.
type FollowRecord struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	Follower  uint `gorm:"index:idx_follow_pair,unique"`
	Target    uint `gorm:"index:idx_follow_pair,unique"`
}

type PaymentRecord struct {
	gorm.Model
	UserID    uint   `gorm:"index"`
	OrderID   string `gorm:"uniqueindex"`
	PaymentID string
	Signature string
	Amount    int64
	Receipt   string
	Status    string
}

const (
	PaymentStatusCreated = "created"
	PaymentStatusPaid    = "paid"
)
