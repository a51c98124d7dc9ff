package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/inkwell-social/inkwell/models"
	"github.com/inkwell-social/inkwell/readcache"
)

func (s *Server) buildProfileSnapshot(ctx context.Context, u *models.User) (*ProfileSnapshot, error) {
	var posts []models.Post
	err := s.db.WithContext(ctx).Preload("Category").
		Where("author_id = ?", u.ID).Order("created_at DESC").Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("listing profile posts: %w", err)
	}
	for i := range posts {
		posts[i].Author = u
	}

	return &ProfileSnapshot{
		Profile:   u.Summary(),
		Following: u.Following,
		Followers: u.Followers,
		IsPremium: u.IsPremium,
		PostCount: len(posts),
		Posts:     postViews(posts),
	}, nil
}

func (s *Server) handleGetProfile(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	var snap ProfileSnapshot
	if s.cache.Read(ctx, readcache.ProfileKey(u.ID), &snap) {
		return c.JSON(http.StatusOK, map[string]any{"success": true, "profile": snap})
	}

	built, err := s.buildProfileSnapshot(ctx, u)
	if err != nil {
		return err
	}

	s.cache.Populate(ctx, readcache.ProfileKey(u.ID), *built, profileTTL)

	return c.JSON(http.StatusOK, map[string]any{"success": true, "profile": built})
}

func (s *Server) handleGetUserProfile(c echo.Context) error {
	ctx := c.Request().Context()

	uid, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	u, err := s.lookupUserByID(ctx, uid)
	if err != nil {
		return err
	}

	var snap ProfileSnapshot
	if s.cache.Read(ctx, readcache.ProfileKey(uid), &snap) {
		return c.JSON(http.StatusOK, map[string]any{"success": true, "profile": snap})
	}

	built, err := s.buildProfileSnapshot(ctx, u)
	if err != nil {
		return err
	}

	s.cache.Populate(ctx, readcache.ProfileKey(uid), *built, profileTTL)

	return c.JSON(http.StatusOK, map[string]any{"success": true, "profile": built})
}

type UpdateProfileRequest struct {
	Username       *string `json:"username"`
	Fullname       *string `json:"fullname"`
	Bio            *string `json:"bio"`
	ProfilePicture *string `json:"profilePicture"`
}

func (s *Server) handleUpdateProfile(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	var body UpdateProfileRequest
	if err := c.Bind(&body); err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "invalid request body"}
	}

	updates := map[string]any{}
	if body.Username != nil {
		if len(*body.Username) < 3 {
			return &echo.HTTPError{Code: http.StatusBadRequest, Message: "username must be at least 3 characters"}
		}
		updates["username"] = *body.Username
	}
	if body.Fullname != nil {
		updates["fullname"] = *body.Fullname
	}
	if body.Bio != nil {
		updates["bio"] = *body.Bio
	}
	if body.ProfilePicture != nil {
		updates["profile_picture"] = *body.ProfilePicture
	}
	if len(updates) == 0 {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "nothing to update"}
	}

	err = s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", u.ID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}

	// Author summaries are denormalized into the cached post listing and
	// into every cached view of the user's own posts.
	var postIDs []uint
	err = s.db.WithContext(ctx).Model(&models.Post{}).Where("author_id = ?", u.ID).Pluck("id", &postIDs).Error
	if err != nil {
		return fmt.Errorf("listing posts for invalidation: %w", err)
	}
	s.cache.Invalidate(ctx, readcache.KeysForProfileWrite(u.ID, postIDs)...)

	updated, err := s.lookupUserByID(ctx, u.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"profile": updated.Summary(),
		"message": "profile updated successfully",
	})
}
