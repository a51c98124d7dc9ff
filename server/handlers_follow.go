package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/inkwell-social/inkwell/graph"
	"github.com/inkwell-social/inkwell/models"
	"github.com/inkwell-social/inkwell/readcache"
)

func (s *Server) handleFollow(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	target, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	if err := s.graph.Follow(ctx, u.ID, target); err != nil {
		// On a partial write the edge exists but a counter lagged; the
		// caller gets a server error so it can retry, and the stale
		// snapshots still have to go.
		if errors.Is(err, graph.ErrPartialWrite) {
			s.cache.Invalidate(ctx, readcache.ProfileKey(u.ID), readcache.ProfileKey(target))
		}
		return err
	}

	s.cache.Invalidate(ctx, readcache.ProfileKey(u.ID), readcache.ProfileKey(target))

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "followed successfully",
	})
}

func (s *Server) handleUnfollow(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	target, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	if err := s.graph.Unfollow(ctx, u.ID, target); err != nil {
		if errors.Is(err, graph.ErrPartialWrite) {
			s.cache.Invalidate(ctx, readcache.ProfileKey(u.ID), readcache.ProfileKey(target))
		}
		return err
	}

	s.cache.Invalidate(ctx, readcache.ProfileKey(u.ID), readcache.ProfileKey(target))

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "unfollowed successfully",
	})
}

func summaries(users []models.User) []models.UserSummary {
	out := make([]models.UserSummary, len(users))
	for i := range users {
		out[i] = users[i].Summary()
	}
	return out
}

func (s *Server) handleGetFollowing(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	users, err := s.graph.GetFollowing(ctx, u.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"following": summaries(users),
	})
}

func (s *Server) handleGetFollowers(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	users, err := s.graph.GetFollowers(ctx, u.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"followers": summaries(users),
	})
}

func (s *Server) handleFollowStatus(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	target, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	following, err := s.graph.IsFollowing(ctx, u.ID, target)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"following": following,
	})
}
