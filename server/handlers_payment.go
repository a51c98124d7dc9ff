package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/inkwell-social/inkwell/models"
	"github.com/inkwell-social/inkwell/readcache"
)

type CreateOrderRequest struct {
	Amount int64 `json:"amount"`
}

type OrderResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId"`
	Amount  int64  `json:"amount"`
	Receipt string `json:"receipt"`
}

func (s *Server) handleCreateOrder(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	var body CreateOrderRequest
	if err := c.Bind(&body); err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "invalid request body"}
	}
	if body.Amount <= 0 {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "amount must be positive"}
	}

	rec := models.PaymentRecord{
		UserID:  u.ID,
		OrderID: newOrderID(),
		Amount:  body.Amount,
		Receipt: newReceiptID(),
		Status:  models.PaymentStatusCreated,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("creating order: %w", err)
	}

	return c.JSON(http.StatusCreated, OrderResponse{
		Success: true,
		OrderID: rec.OrderID,
		Amount:  rec.Amount,
		Receipt: rec.Receipt,
	})
}

type VerifyOrderRequest struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

func (s *Server) handleVerifyOrder(c echo.Context) error {
	ctx := c.Request().Context()

	u, err := s.getUser(ctx)
	if err != nil {
		return err
	}

	var body VerifyOrderRequest
	if err := c.Bind(&body); err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "invalid request body"}
	}
	if body.OrderID == "" || body.PaymentID == "" || body.Signature == "" {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "orderId, paymentId and signature are required"}
	}

	var rec models.PaymentRecord
	err = s.db.WithContext(ctx).First(&rec, "order_id = ?", body.OrderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoSuchOrder
		}
		return err
	}
	if rec.UserID != u.ID {
		return ErrNotAuthorized
	}

	if !verifyPaymentSignature(s.paymentSecret, body.OrderID, body.PaymentID, body.Signature) {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "payment signature verification failed"}
	}

	err = s.db.WithContext(ctx).Model(&models.PaymentRecord{}).Where("id = ?", rec.ID).
		Updates(map[string]any{
			"payment_id": body.PaymentID,
			"signature":  body.Signature,
			"status":     models.PaymentStatusPaid,
		}).Error
	if err != nil {
		return fmt.Errorf("updating payment record: %w", err)
	}

	err = s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", u.ID).
		UpdateColumn("is_premium", true).Error
	if err != nil {
		return fmt.Errorf("marking user premium: %w", err)
	}

	s.cache.Invalidate(ctx, readcache.ProfileKey(u.ID))

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "payment verified successfully",
	})
}
