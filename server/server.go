package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/mail"
	"strconv"
	"time"

	"github.com/carlmjohnson/versioninfo"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	slogecho "github.com/samber/slog-echo"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"

	"github.com/inkwell-social/inkwell/graph"
	"github.com/inkwell-social/inkwell/models"
	"github.com/inkwell-social/inkwell/readcache"
	"github.com/inkwell-social/inkwell/util"
)

type Server struct {
	db    *gorm.DB
	cache *readcache.Cache
	graph *graph.Graph
	echo  *echo.Echo

	jwtSigningKey []byte
	paymentSecret string
	oauth         *oauth2.Config
	httpc         *http.Client

	catCache *lru.Cache[string, uint]
	promReg  *prometheus.Registry

	log *slog.Logger
}

type Config struct {
	JWTSigningKey []byte
	PaymentSecret string

	// Google OAuth is optional; leave the client id empty to disable the
	// /auth/google routes.
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
}

var (
	ErrNoSuchPost    = fmt.Errorf("no such post")
	ErrNoSuchComment = fmt.Errorf("no such comment")
	ErrNoSuchOrder   = fmt.Errorf("no such order")
	ErrNotAuthorized = fmt.Errorf("not authorized for this resource")
)

// serverListenerBootTimeout is how long to wait for the requested server
// socket to become available for use.
const serverListenerBootTimeout = 5 * time.Second

const (
	postListTTL = 12 * time.Hour
	postTTL     = 12 * time.Hour
	profileTTL  = time.Hour
)

func NewServer(db *gorm.DB, cache *readcache.Cache, cfg Config) (*Server, error) {
	if len(cfg.JWTSigningKey) == 0 {
		return nil, fmt.Errorf("jwt signing key is required")
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Category{},
		&models.Post{},
		&models.Comment{},
		&models.FollowRecord{},
		&models.PaymentRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	catCache, err := lru.New[string, uint](256)
	if err != nil {
		return nil, err
	}

	s := &Server{
		db:            db,
		cache:         cache,
		graph:         graph.NewGraph(db),
		jwtSigningKey: cfg.JWTSigningKey,
		paymentSecret: cfg.PaymentSecret,
		httpc:         util.RobustHTTPClient(),
		catCache:      catCache,
		// per-instance registry so multiple servers can coexist in one
		// process (tests boot several)
		promReg: prometheus.NewRegistry(),

		log: slog.Default().With("system", "server"),
	}

	if cfg.GoogleClientID != "" {
		s.oauth = &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		}
	}

	return s, nil
}

func (s *Server) Graph() *graph.Graph {
	return s.graph
}

func (s *Server) RunAPI(addr string) error {
	var lc net.ListenConfig
	ctx, cancel := context.WithTimeout(context.Background(), serverListenerBootTimeout)
	defer cancel()

	li, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.RunAPIWithListener(li)
}

func (s *Server) RunAPIWithListener(listen net.Listener) error {
	e := echo.New()
	s.echo = e
	e.HideBanner = true

	e.Use(slogecho.New(s.log))
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "inkwell",
		Registerer: s.promReg,
	}))
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit("8M"))
	e.HTTPErrorHandler = s.errorHandler

	e.Use(s.authMiddleware)
	s.registerRoutes(e)

	// In order to support booting on random ports in tests, we need to tell
	// the Echo instance it's already got a port, and then use its StartServer
	// method to re-use that listener.
	e.Listener = listen
	srv := &http.Server{}
	return e.StartServer(srv)
}

func (s *Server) registerRoutes(e *echo.Echo) {
	e.GET("/_health", s.HandleHealthCheck)
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: s.promReg,
	}))

	e.POST("/auth/signup", s.handleSignup)
	e.POST("/auth/signin", s.handleSignin)
	e.POST("/auth/logout", s.handleLogout)
	e.POST("/auth/refresh", s.handleRefreshSession)
	e.POST("/auth/password", s.handleChangePassword)
	e.DELETE("/auth/account", s.handleDeleteAccount)
	if s.oauth != nil {
		e.GET("/auth/google/login", s.handleGoogleLogin)
		e.GET("/auth/google/callback", s.handleGoogleCallback)
	}

	e.POST("/posts", s.handleCreatePost)
	e.GET("/posts", s.handleGetAllPosts)
	e.GET("/posts/:postId", s.handleGetPost)
	e.GET("/posts/category/:categoryId", s.handleGetPostsByCategory)
	e.PATCH("/posts/:id", s.handleUpdatePost)
	e.DELETE("/posts/:id", s.handleDeletePost)
	e.POST("/posts/:postId/like", s.handleLikePost)
	e.GET("/blogs", s.handleListBlogs)

	e.POST("/posts/:postId/comments", s.handleCreateComment)
	e.GET("/comments", s.handleGetAllComments)
	e.PATCH("/comments/:commentId", s.handleUpdateComment)
	e.DELETE("/comments/:commentId", s.handleDeleteComment)

	e.POST("/follow/:id", s.handleFollow)
	e.DELETE("/follow/:id", s.handleUnfollow)
	e.GET("/follow/following", s.handleGetFollowing)
	e.GET("/follow/followers", s.handleGetFollowers)
	e.GET("/follow/:id/status", s.handleFollowStatus)

	e.GET("/profile", s.handleGetProfile)
	e.PATCH("/profile", s.handleUpdateProfile)
	e.GET("/profile/:id", s.handleGetUserProfile)

	e.GET("/search/users", s.handleSearchUsers)
	e.GET("/search/posts", s.handleSearchPosts)

	e.POST("/payments/order", s.handleCreateOrder)
	e.POST("/payments/verify", s.handleVerifyOrder)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Message string `json:"msg,omitempty"`
}

func (s *Server) HandleHealthCheck(c echo.Context) error {
	if err := s.db.Exec("SELECT 1").Error; err != nil {
		s.log.Error("healthcheck can't connect to database", "err", err)
		return c.JSON(500, HealthStatus{Status: "error", Version: versioninfo.Short(), Message: "can't connect to database"})
	}
	return c.JSON(200, HealthStatus{Status: "ok", Version: versioninfo.Short()})
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// errorHandler translates the component error taxonomy to status codes in
// one place, so store-level error types never pick handler-specific codes.
func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := "internal server error"

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		msg = fmt.Sprint(he.Message)
	case errors.Is(err, graph.ErrNoSuchUser),
		errors.Is(err, ErrNoSuchPost),
		errors.Is(err, ErrNoSuchComment),
		errors.Is(err, ErrNoSuchOrder),
		errors.Is(err, gorm.ErrRecordNotFound):
		code = http.StatusNotFound
		msg = err.Error()
	case errors.Is(err, graph.ErrSelfFollow):
		code = http.StatusBadRequest
		msg = err.Error()
	case errors.Is(err, graph.ErrAlreadyFollowing):
		code = http.StatusConflict
		msg = err.Error()
	case errors.Is(err, ErrNotAuthorized):
		code = http.StatusForbidden
		msg = err.Error()
	case errors.Is(err, ErrInvalidUsernameOrPassword):
		code = http.StatusUnauthorized
		msg = err.Error()
	case errors.Is(err, graph.ErrPartialWrite):
		// server-side failure by design: the caller retries the whole
		// operation, the recount sweep repairs the counters
		code = http.StatusInternalServerError
		msg = err.Error()
	}

	if code >= 500 {
		s.log.Error("request failed", "path", c.Path(), "err", err)
	}

	if !c.Response().Committed {
		c.JSON(code, errorResponse{Success: false, Message: msg})
	}
}

func (s *Server) lookupUserByID(ctx context.Context, uid uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, graph.ErrNoSuchUser
		}
		return nil, err
	}
	return &u, nil
}

func (s *Server) lookupUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Find(&u, "email = ?", email).Error; err != nil {
		return nil, err
	}
	if u.ID == 0 {
		return nil, graph.ErrNoSuchUser
	}
	return &u, nil
}

func (s *Server) getUser(ctx context.Context) (*models.User, error) {
	u, ok := ctx.Value(ctxKeyUser).(*models.User)
	if !ok {
		return nil, &echo.HTTPError{Code: http.StatusUnauthorized, Message: "auth required"}
	}
	return u, nil
}

func validateEmail(email string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "invalid email address"}
	}
	return nil
}

func parseIDParam(c echo.Context, name string) (uint, error) {
	raw := c.Param(name)
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || v == 0 {
		return 0, &echo.HTTPError{
			Code:    http.StatusBadRequest,
			Message: fmt.Sprintf("invalid value for '%s'", name),
		}
	}
	return uint(v), nil
}
