package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/inkwell-social/inkwell/models"
	"github.com/inkwell-social/inkwell/readcache"
)

type CreatePostRequest struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Image    string   `json:"image"`
	Tags     []string `json:"tags"`
	Category string   `json:"category"`
}

// getOrCreateCategory resolves a category name to its row id, creating the
// row on first use. Names are cached in-process since the set is tiny and
// effectively append-only.
func (s *Server) getOrCreateCategory(ctx context.Context, name string) (uint, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return 0, nil
	}

	if id, ok := s.catCache.Get(name); ok {
		return id, nil
	}

	var cat models.Category
	err := s.db.WithContext(ctx).Where(models.Category{Name: name}).FirstOrCreate(&cat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// lost the create race, the row exists now
			if err := s.db.WithContext(ctx).First(&cat, "name = ?", name).Error; err != nil {
				return 0, err
			}
		} else {
			return 0, fmt.Errorf("resolving category %q: %w", name, err)
		}
	}

	s.catCache.Add(name, cat.ID)
	return cat.ID, nil
}

func (s *Server) handleCreatePost(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	var body CreatePostRequest
	if err := c.Bind(&body); err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "invalid request body"}
	}
	if body.Content == "" {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "content is required"}
	}

	catID, err := s.getOrCreateCategory(ctx, body.Category)
	if err != nil {
		return err
	}

	post := models.Post{
		Title:      body.Title,
		Content:    body.Content,
		AuthorID:   u.ID,
		Image:      body.Image,
		Tags:       body.Tags,
		CategoryID: catID,
	}
	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		return fmt.Errorf("creating post: %w", err)
	}

	s.cache.Invalidate(ctx, readcache.KeysForPostWrite(post.ID, u.ID)...)

	post.Author = u
	return c.JSON(http.StatusCreated, map[string]any{
		"success": true,
		"post":    postView(&post),
		"message": "post created successfully",
	})
}

func (s *Server) handleGetAllPosts(c echo.Context) error {
	ctx := c.Request().Context()

	var snap PostListSnapshot
	if s.cache.Read(ctx, readcache.PostListKey(), &snap) {
		return c.JSON(http.StatusOK, map[string]any{"success": true, "posts": snap.Posts})
	}

	var posts []models.Post
	err := s.db.WithContext(ctx).Preload("Author").Preload("Category").
		Order("created_at DESC").Find(&posts).Error
	if err != nil {
		return fmt.Errorf("listing posts: %w", err)
	}

	snap.Posts = postViews(posts)
	s.cache.Populate(ctx, readcache.PostListKey(), snap, postListTTL)

	return c.JSON(http.StatusOK, map[string]any{"success": true, "posts": snap.Posts})
}

func (s *Server) loadPost(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ctx).Preload("Author").Preload("Category").
		First(&post, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSuchPost
		}
		return nil, err
	}
	return &post, nil
}

func (s *Server) handleGetPost(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := parseIDParam(c, "postId")
	if err != nil {
		return err
	}

	var view PostView
	if s.cache.Read(ctx, readcache.PostKey(id), &view) {
		return c.JSON(http.StatusOK, map[string]any{"success": true, "post": view})
	}

	post, err := s.loadPost(ctx, id)
	if err != nil {
		return err
	}

	view = postView(post)
	s.cache.Populate(ctx, readcache.PostKey(id), view, postTTL)

	return c.JSON(http.StatusOK, map[string]any{"success": true, "post": view})
}

func (s *Server) handleGetPostsByCategory(c echo.Context) error {
	ctx := c.Request().Context()

	catID, err := parseIDParam(c, "categoryId")
	if err != nil {
		return err
	}

	var cat models.Category
	if err := s.db.WithContext(ctx).First(&cat, "id = ?", catID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &echo.HTTPError{Code: http.StatusNotFound, Message: "no such category"}
		}
		return err
	}

	var posts []models.Post
	err = s.db.WithContext(ctx).Preload("Author").Preload("Category").
		Where("category_id = ?", catID).Order("created_at DESC").Find(&posts).Error
	if err != nil {
		return fmt.Errorf("listing posts by category: %w", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"category": cat.Name,
		"posts":    postViews(posts),
	})
}

// handleListBlogs is the paginated variant of the post listing. Pagination
// makes the result shape depend on the query, so it reads through to the
// database rather than the cached full snapshot.
func (s *Server) handleListBlogs(c echo.Context) error {
	ctx := c.Request().Context()

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 || limit > 100 {
		limit = 10
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Post{}).Count(&total).Error; err != nil {
		return fmt.Errorf("counting posts: %w", err)
	}

	var posts []models.Post
	err := s.db.WithContext(ctx).Preload("Author").Preload("Category").
		Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).
		Find(&posts).Error
	if err != nil {
		return fmt.Errorf("listing blogs: %w", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"page":    page,
		"limit":   limit,
		"total":   total,
		"posts":   postViews(posts),
	})
}

type UpdatePostRequest struct {
	Title    *string   `json:"title"`
	Content  *string   `json:"content"`
	Image    *string   `json:"image"`
	Tags     *[]string `json:"tags"`
	Category *string   `json:"category"`
}

func (s *Server) handleUpdatePost(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var body UpdatePostRequest
	if err := c.Bind(&body); err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "invalid request body"}
	}

	post, err := s.loadPost(ctx, id)
	if err != nil {
		return err
	}
	if post.AuthorID != u.ID {
		return ErrNotAuthorized
	}

	updates := map[string]any{}
	if body.Title != nil {
		updates["title"] = *body.Title
	}
	if body.Content != nil {
		if *body.Content == "" {
			return &echo.HTTPError{Code: http.StatusBadRequest, Message: "content cannot be empty"}
		}
		updates["content"] = *body.Content
	}
	if body.Image != nil {
		updates["image"] = *body.Image
	}
	if body.Tags != nil {
		updates["tags"] = *body.Tags
	}
	if body.Category != nil {
		catID, err := s.getOrCreateCategory(ctx, *body.Category)
		if err != nil {
			return err
		}
		updates["category_id"] = catID
	}
	if len(updates) == 0 {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "nothing to update"}
	}

	if err := s.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("updating post: %w", err)
	}

	// The listing snapshot embeds post bodies, so every post write has to
	// take the listing key down with it.
	s.cache.Invalidate(ctx, readcache.KeysForPostWrite(post.ID, post.AuthorID)...)

	post, err = s.loadPost(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"post":    postView(post),
		"message": "post updated successfully",
	})
}

func (s *Server) handleDeletePost(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	post, err := s.loadPost(ctx, id)
	if err != nil {
		return err
	}
	if post.AuthorID != u.ID {
		return ErrNotAuthorized
	}

	if err := s.db.WithContext(ctx).Where("post_id = ?", id).Delete(&models.Comment{}).Error; err != nil {
		return fmt.Errorf("deleting comments: %w", err)
	}
	if err := s.db.WithContext(ctx).Delete(&models.Post{}, id).Error; err != nil {
		return fmt.Errorf("deleting post: %w", err)
	}

	s.cache.Invalidate(ctx, readcache.KeysForPostWrite(id, post.AuthorID)...)

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "post deleted successfully",
	})
}

// handleLikePost toggles the caller's like on a post. The like set lives on
// the post row itself, so the toggle is a single row write.
func (s *Server) handleLikePost(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	id, err := parseIDParam(c, "postId")
	if err != nil {
		return err
	}

	post, err := s.loadPost(ctx, id)
	if err != nil {
		return err
	}

	liked := false
	if post.LikedBy(u.ID) {
		likes := post.Likes[:0]
		for _, uid := range post.Likes {
			if uid != u.ID {
				likes = append(likes, uid)
			}
		}
		post.Likes = likes
	} else {
		post.Likes = append(post.Likes, u.ID)
		liked = true
	}

	err = s.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id).
		UpdateColumn("likes", post.Likes).Error
	if err != nil {
		return fmt.Errorf("updating likes: %w", err)
	}

	s.cache.Invalidate(ctx, readcache.KeysForPostWrite(id, post.AuthorID)...)

	msg := "post unliked"
	if liked {
		msg = "post liked"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"liked":   liked,
		"likes":   len(post.Likes),
		"message": msg,
	})
}
