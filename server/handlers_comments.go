package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/inkwell-social/inkwell/models"
)

type CommentRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleCreateComment(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	postID, err := parseIDParam(c, "postId")
	if err != nil {
		return err
	}

	var body CommentRequest
	if err := c.Bind(&body); err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "invalid request body"}
	}
	if body.Content == "" {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "content is required"}
	}

	var cnt int64
	if err := s.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", postID).Count(&cnt).Error; err != nil {
		return err
	}
	if cnt == 0 {
		return ErrNoSuchPost
	}

	cm := models.Comment{
		PostID:   postID,
		AuthorID: u.ID,
		Content:  body.Content,
	}
	if err := s.db.WithContext(ctx).Create(&cm).Error; err != nil {
		return fmt.Errorf("creating comment: %w", err)
	}

	cm.Author = u
	return c.JSON(http.StatusCreated, map[string]any{
		"success": true,
		"comment": commentView(&cm),
		"message": "comment created successfully",
	})
}

func (s *Server) handleGetAllComments(c echo.Context) error {
	ctx := c.Request().Context()

	var comments []models.Comment
	err := s.db.WithContext(ctx).Preload("Author").Order("created_at DESC").Find(&comments).Error
	if err != nil {
		return fmt.Errorf("listing comments: %w", err)
	}

	views := make([]CommentView, len(comments))
	for i := range comments {
		views[i] = commentView(&comments[i])
	}

	return c.JSON(http.StatusOK, map[string]any{"success": true, "comments": views})
}

func (s *Server) loadComment(ctx context.Context, id uint) (*models.Comment, error) {
	var cm models.Comment
	err := s.db.WithContext(ctx).Preload("Author").First(&cm, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSuchComment
		}
		return nil, err
	}
	return &cm, nil
}

func (s *Server) handleUpdateComment(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	id, err := parseIDParam(c, "commentId")
	if err != nil {
		return err
	}

	var body CommentRequest
	if err := c.Bind(&body); err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "invalid request body"}
	}
	if body.Content == "" {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "content is required"}
	}

	cm, err := s.loadComment(ctx, id)
	if err != nil {
		return err
	}
	if cm.AuthorID != u.ID {
		return ErrNotAuthorized
	}

	err = s.db.WithContext(ctx).Model(&models.Comment{}).Where("id = ?", id).
		UpdateColumn("content", body.Content).Error
	if err != nil {
		return fmt.Errorf("updating comment: %w", err)
	}

	cm.Content = body.Content
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"comment": commentView(cm),
		"message": "comment updated successfully",
	})
}

func (s *Server) handleDeleteComment(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	id, err := parseIDParam(c, "commentId")
	if err != nil {
		return err
	}

	cm, err := s.loadComment(ctx, id)
	if err != nil {
		return err
	}
	if cm.AuthorID != u.ID {
		return ErrNotAuthorized
	}

	if err := s.db.WithContext(ctx).Delete(&models.Comment{}, id).Error; err != nil {
		return fmt.Errorf("deleting comment: %w", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "comment deleted successfully",
	})
}
