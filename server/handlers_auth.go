package server

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/inkwell-social/inkwell/graph"
	"github.com/inkwell-social/inkwell/models"
	"github.com/inkwell-social/inkwell/readcache"
)

type SignupRequest struct {
	Username       string `json:"username"`
	Fullname       string `json:"fullname"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	ProfilePicture string `json:"profilePicture"`
}

type SignupResponse struct {
	Success bool               `json:"success"`
	User    models.UserSummary `json:"user"`
	Message string             `json:"message"`
}

func (s *Server) handleSignup(c echo.Context) error {
	ctx := c.Request().Context()

	var body SignupRequest
	if err := c.Bind(&body); err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "invalid request body"}
	}

	if len(body.Username) < 3 {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "username must be at least 3 characters"}
	}
	if body.Fullname == "" {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "fullname is required"}
	}
	if err := validateEmail(body.Email); err != nil {
		return err
	}
	if len(body.Password) < 6 {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "password must be at least 6 characters"}
	}

	_, err := s.lookupUserByEmail(ctx, body.Email)
	switch err {
	default:
		return err
	case nil:
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "user already exists"}
	case graph.ErrNoSuchUser:
		// email is available, lets go
	}

	hashed, err := encodePassword(body.Password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	u := models.User{
		Username:       body.Username,
		Fullname:       body.Fullname,
		Email:          body.Email,
		Password:       hashed,
		ProfilePicture: body.ProfilePicture,
	}
	if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	return c.JSON(http.StatusCreated, SignupResponse{
		Success: true,
		User:    u.Summary(),
		Message: "user created successfully",
	})
}

type SigninRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SigninResponse struct {
	Success bool               `json:"success"`
	Token   string             `json:"token"`
	Refresh string             `json:"refreshToken"`
	User    models.UserSummary `json:"user"`
	Message string             `json:"message"`
}

func (s *Server) handleSignin(c echo.Context) error {
	ctx := c.Request().Context()

	var body SigninRequest
	if err := c.Bind(&body); err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "invalid request body"}
	}

	u, err := s.lookupUserByEmail(ctx, body.Email)
	if err != nil {
		if err == graph.ErrNoSuchUser {
			return &echo.HTTPError{Code: http.StatusNotFound, Message: "no account registered with this email"}
		}
		return err
	}

	if u.Password == "" {
		// OAuth-only account
		return ErrInvalidUsernameOrPassword
	}
	if err := verifyPassword(u.Password, body.Password); err != nil {
		return err
	}

	tok, err := s.createAuthTokenForUser(ctx, u.ID)
	if err != nil {
		return err
	}

	s.setSessionCookie(c, tok.AccessJwt)

	return c.JSON(http.StatusOK, SigninResponse{
		Success: true,
		Token:   tok.AccessJwt,
		Refresh: tok.RefreshJwt,
		User:    u.Summary(),
		Message: "login successful",
	})
}

func (s *Server) handleLogout(c echo.Context) error {
	s.clearSessionCookie(c)
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "logout successful",
	})
}

func (s *Server) handleRefreshSession(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	scope, ok := ctx.Value(ctxKeyAuthScope).(string)
	if !ok || scope != authScopeRefresh {
		return &echo.HTTPError{Code: http.StatusUnauthorized, Message: "auth token did not have refresh scope"}
	}

	tok, err := s.createAuthTokenForUser(ctx, u.ID)
	if err != nil {
		return err
	}

	s.setSessionCookie(c, tok.AccessJwt)

	return c.JSON(http.StatusOK, SigninResponse{
		Success: true,
		Token:   tok.AccessJwt,
		Refresh: tok.RefreshJwt,
		User:    u.Summary(),
		Message: "session refreshed",
	})
}

type ChangePasswordRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleChangePassword(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	var body ChangePasswordRequest
	if err := c.Bind(&body); err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "invalid request body"}
	}
	if len(body.Password) < 6 {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "password must be at least 6 characters"}
	}

	hashed, err := encodePassword(body.Password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	err = s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", u.ID).
		UpdateColumn("password", hashed).Error
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "password updated successfully",
	})
}

// handleDeleteAccount removes the user together with everything that points
// at them: authored posts (and those posts' comments), authored comments,
// and both directions of their follow edges.
func (s *Server) handleDeleteAccount(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	var postIDs []uint
	err = s.db.WithContext(ctx).Model(&models.Post{}).Where("author_id = ?", u.ID).Pluck("id", &postIDs).Error
	if err != nil {
		return fmt.Errorf("listing posts for deletion: %w", err)
	}

	if len(postIDs) > 0 {
		if err := s.db.WithContext(ctx).Where("post_id IN ?", postIDs).Delete(&models.Comment{}).Error; err != nil {
			return fmt.Errorf("deleting comments on posts: %w", err)
		}
		if err := s.db.WithContext(ctx).Where("id IN ?", postIDs).Delete(&models.Post{}).Error; err != nil {
			return fmt.Errorf("deleting posts: %w", err)
		}
	}

	if err := s.db.WithContext(ctx).Where("author_id = ?", u.ID).Delete(&models.Comment{}).Error; err != nil {
		return fmt.Errorf("deleting authored comments: %w", err)
	}

	if err := s.graph.Purge(ctx, u.ID); err != nil {
		return fmt.Errorf("purging follow edges: %w", err)
	}

	if err := s.db.WithContext(ctx).Delete(&models.User{}, u.ID).Error; err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}

	s.cache.Invalidate(ctx, readcache.KeysForProfileWrite(u.ID, postIDs)...)

	s.clearSessionCookie(c)

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "account deleted successfully",
	})
}
