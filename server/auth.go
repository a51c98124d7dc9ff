package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	authScopeAccess  = "inkwell.access"
	authScopeRefresh = "inkwell.refresh"

	accessTokenLifetime  = 72 * time.Hour
	refreshTokenLifetime = 7 * 24 * time.Hour
)

// request context keys, typed so they cannot collide with other packages
type ctxKey int

const (
	ctxKeyUser ctxKey = iota
	ctxKeyAuthScope
)

type AuthInfo struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
}

func makeToken(subject string, scope string, exp time.Time) jwt.Token {
	tok := jwt.New()
	tok.Set("scope", scope)
	tok.Set(jwt.SubjectKey, subject)
	tok.Set(jwt.IssuedAtKey, time.Now().Unix())
	tok.Set(jwt.ExpirationKey, exp.Unix())

	return tok
}

func (s *Server) createAuthTokenForUser(ctx context.Context, uid uint) (*AuthInfo, error) {
	subject := strconv.FormatUint(uint64(uid), 10)

	accessTok := makeToken(subject, authScopeAccess, time.Now().Add(accessTokenLifetime))
	refreshTok := makeToken(subject, authScopeRefresh, time.Now().Add(refreshTokenLifetime))

	rval := make([]byte, 10)
	rand.Read(rval)
	refreshTok.Set(jwt.JwtIDKey, base64.StdEncoding.EncodeToString(rval))

	accSig, err := jwt.Sign(accessTok, jwt.WithKey(jwa.HS256, s.jwtSigningKey))
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}

	refSig, err := jwt.Sign(refreshTok, jwt.WithKey(jwa.HS256, s.jwtSigningKey))
	if err != nil {
		return nil, fmt.Errorf("signing refresh token: %w", err)
	}

	return &AuthInfo{
		AccessJwt:  string(accSig),
		RefreshJwt: string(refSig),
	}, nil
}

func (s *Server) checkToken(tokstr string) (string, uint, error) {
	tok, err := jwt.Parse([]byte(tokstr), jwt.WithKey(jwa.HS256, s.jwtSigningKey), jwt.WithValidate(true))
	if err != nil {
		return "", 0, fmt.Errorf("invalid token: %w", err)
	}

	scope, ok := tok.Get("scope")
	if !ok {
		return "", 0, fmt.Errorf("expected scope to be set")
	}
	scopestr, ok := scope.(string)
	if !ok {
		return "", 0, fmt.Errorf("expected scope to be a string")
	}

	uid, err := strconv.ParseUint(tok.Subject(), 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("expected user id in subject: %w", err)
	}

	return scopestr, uint(uid), nil
}

func tokenFromRequest(c echo.Context) string {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if cookie, err := c.Cookie("token"); err == nil {
		return cookie.Value
	}
	return ""
}

func isPublicRoute(method, path string) bool {
	switch path {
	case "/auth/signup",
		"/auth/signin",
		"/auth/google/login",
		"/auth/google/callback":
		return true
	case "/_health",
		"/metrics",
		"/blogs",
		"/posts",
		"/posts/:postId",
		"/posts/category/:categoryId",
		"/comments",
		"/profile/:id",
		"/search/users",
		"/search/posts":
		return method == http.MethodGet
	default:
		return false
	}
}

func (s *Server) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if isPublicRoute(c.Request().Method, c.Path()) {
			return next(c)
		}

		tokstr := tokenFromRequest(c)
		if tokstr == "" {
			return &echo.HTTPError{Code: http.StatusUnauthorized, Message: "auth required"}
		}

		scope, uid, err := s.checkToken(tokstr)
		if err != nil {
			return &echo.HTTPError{Code: http.StatusUnauthorized, Message: err.Error()}
		}

		// refresh tokens open exactly one door
		if scope != authScopeAccess && c.Path() != "/auth/refresh" {
			return &echo.HTTPError{Code: http.StatusUnauthorized, Message: "token scope not valid for this endpoint"}
		}

		ctx := c.Request().Context()

		u, err := s.lookupUserByID(ctx, uid)
		if err != nil {
			return &echo.HTTPError{Code: http.StatusUnauthorized, Message: "account no longer exists"}
		}

		ctx = context.WithValue(ctx, ctxKeyAuthScope, scope)
		ctx = context.WithValue(ctx, ctxKeyUser, u)

		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *Server) setSessionCookie(c echo.Context, token string) {
	c.SetCookie(&http.Cookie{
		Name:     "token",
		Value:    token,
		MaxAge:   int(accessTokenLifetime.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
		Path:     "/",
	})
}

func (s *Server) clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     "token",
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Path:     "/",
	})
}
