package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/oauth2"

	"github.com/inkwell-social/inkwell/graph"
	"github.com/inkwell-social/inkwell/models"
)

const oauthStateCookie = "oauth_state"

func (s *Server) handleGoogleLogin(c echo.Context) error {
	state := randomHex(16)
	c.SetCookie(&http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		MaxAge:   300,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})

	return c.Redirect(http.StatusTemporaryRedirect, s.oauth.AuthCodeURL(state))
}

type googleUserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (s *Server) fetchGoogleUserInfo(ctx context.Context, tok *oauth2.Token) (*googleUserInfo, error) {
	// route the oauth2 client through our retrying transport
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpc)

	resp, err := s.oauth.Client(ctx, tok).Get("https://www.googleapis.com/oauth2/v2/userinfo")
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request failed: %s", resp.Status)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding userinfo: %w", err)
	}
	return &info, nil
}

// findOrCreateGoogleUser links the external identity to a local account:
// first by the provider id, then by matching email, finally by creating a
// fresh passwordless account.
func (s *Server) findOrCreateGoogleUser(ctx context.Context, info *googleUserInfo) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).First(&u, "google_id = ?", info.ID).Error
	if err == nil {
		return &u, nil
	}

	existing, err := s.lookupUserByEmail(ctx, info.Email)
	if err == nil {
		err = s.db.WithContext(ctx).Model(existing).UpdateColumn("google_id", info.ID).Error
		if err != nil {
			return nil, fmt.Errorf("linking google account: %w", err)
		}
		return existing, nil
	}
	if !errors.Is(err, graph.ErrNoSuchUser) {
		return nil, err
	}

	u = models.User{
		Username:       info.Email,
		Fullname:       info.Name,
		Email:          info.Email,
		GoogleID:       info.ID,
		ProfilePicture: info.Picture,
	}
	if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
		return nil, fmt.Errorf("creating google user: %w", err)
	}
	return &u, nil
}

func (s *Server) handleGoogleCallback(c echo.Context) error {
	ctx := c.Request().Context()

	stateCookie, err := c.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != c.QueryParam("state") {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "oauth state mismatch"}
	}

	code := c.QueryParam("code")
	if code == "" {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "missing authorization code"}
	}

	tok, err := s.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, s.httpc), code)
	if err != nil {
		return &echo.HTTPError{Code: http.StatusUnauthorized, Message: "oauth code exchange failed"}
	}

	info, err := s.fetchGoogleUserInfo(ctx, tok)
	if err != nil {
		return err
	}
	if info.Email == "" {
		return &echo.HTTPError{Code: http.StatusUnauthorized, Message: "google account has no email"}
	}

	u, err := s.findOrCreateGoogleUser(ctx, info)
	if err != nil {
		return err
	}

	auth, err := s.createAuthTokenForUser(ctx, u.ID)
	if err != nil {
		return err
	}

	s.setSessionCookie(c, auth.AccessJwt)

	return c.JSON(http.StatusOK, SigninResponse{
		Success: true,
		Token:   auth.AccessJwt,
		Refresh: auth.RefreshJwt,
		User:    u.Summary(),
		Message: "login successful",
	})
}
