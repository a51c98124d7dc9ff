package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/inkwell-social/inkwell/models"
)

func (s *Server) handleSearchUsers(c echo.Context) error {
	ctx := c.Request().Context()

	query := strings.TrimSpace(c.QueryParam("query"))
	if query == "" {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "query parameter 'query' is required"}
	}

	var users []models.User
	err := s.db.WithContext(ctx).
		Where("LOWER(username) LIKE ?", "%"+strings.ToLower(query)+"%").
		Limit(25).Find(&users).Error
	if err != nil {
		return fmt.Errorf("searching users: %w", err)
	}

	if len(users) == 0 {
		return &echo.HTTPError{Code: http.StatusNotFound, Message: "no users found"}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"users":   summaries(users),
	})
}

// handleSearchPosts filters by title substring and/or author username; the
// author filter resolves to an id set first and is a hard 404 when it
// matches nobody.
func (s *Server) handleSearchPosts(c echo.Context) error {
	ctx := c.Request().Context()

	title := strings.TrimSpace(c.QueryParam("title"))
	author := strings.TrimSpace(c.QueryParam("author"))
	if title == "" && author == "" {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "query parameter 'title' or 'author' is required"}
	}

	q := s.db.WithContext(ctx).Preload("Author").Preload("Category")

	if title != "" {
		q = q.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(title)+"%")
	}

	if author != "" {
		var authorIDs []uint
		err := s.db.WithContext(ctx).Model(&models.User{}).
			Where("LOWER(username) LIKE ?", "%"+strings.ToLower(author)+"%").
			Pluck("id", &authorIDs).Error
		if err != nil {
			return fmt.Errorf("resolving author filter: %w", err)
		}
		if len(authorIDs) == 0 {
			return &echo.HTTPError{Code: http.StatusNotFound, Message: "no users found matching author"}
		}
		q = q.Where("author_id IN ?", authorIDs)
	}

	var posts []models.Post
	if err := q.Order("created_at DESC").Limit(50).Find(&posts).Error; err != nil {
		return fmt.Errorf("searching posts: %w", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"posts":   postViews(posts),
	})
}
