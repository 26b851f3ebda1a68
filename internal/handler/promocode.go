package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/zizouhuweidi/ilm/internal/domain"
)

// PromocodeHandler handles promocode validation, redemption and administration
type PromocodeHandler struct {
	promocodes domain.PromocodeService
}

// NewPromocodeHandler creates a new promocode handler
func NewPromocodeHandler(promocodes domain.PromocodeService) *PromocodeHandler {
	return &PromocodeHandler{promocodes: promocodes}
}

// Register registers the learner facing routes
func (h *PromocodeHandler) Register(g *echo.Group, auth, optionalAuth echo.MiddlewareFunc) {
	g.POST("/promocodes/validate", h.Validate, optionalAuth)
	g.POST("/promocodes/redeem", h.Redeem, auth)
}

// RegisterAdmin registers the management routes on the admin group
func (h *PromocodeHandler) RegisterAdmin(admin *echo.Group) {
	admin.POST("/promocodes", h.Create)
	admin.GET("/promocodes", h.List)
	admin.GET("/promocodes/:code/usages", h.Usages)
}

// CodeRequest names a promocode; Email is optional on validate
type CodeRequest struct {
	Code  string `json:"code" validate:"required,notblank,max=50"`
	Email string `json:"email" validate:"omitempty,email"`
}

// CreatePromocodeRequest is the admin body for a new code
type CreatePromocodeRequest struct {
	Code            string               `json:"code" validate:"required,notblank,max=50"`
	PromocodeType   domain.PromocodeType `json:"promocode_type" validate:"required,oneof=all_courses single_course discount"`
	Description     string               `json:"description"`
	PriceRub        *float64             `json:"price_rub" validate:"omitempty,gte=0"`
	DiscountPercent *int                 `json:"discount_percent" validate:"omitempty,gte=0,lte=100"`
	CourseIDs       []string             `json:"course_ids" validate:"dive,required"`
	MaxUses         *int                 `json:"max_uses" validate:"omitempty,gte=1"`
	IsActive        *bool                `json:"is_active"`
	ExpiresAt       *time.Time           `json:"expires_at"`
}

// Validate godoc
// @Summary Validate a promocode
// @Description Reports the verdict for a code; the caller's email is used when none is given
// @Tags promocodes
// @Accept json
// @Produce json
// @Param body body CodeRequest true "Code"
// @Success 200 {object} domain.Validation
// @Router /promocodes/validate [post]
func (h *PromocodeHandler) Validate(c echo.Context) error {
	var req CodeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	email := req.Email
	if p := principal(c); email == "" && p.IsLearner() {
		email = p.Email
	}

	v, err := h.promocodes.Validate(c.Request().Context(), req.Code, email)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

// Redeem godoc
// @Summary Redeem a promocode
// @Tags promocodes
// @Accept json
// @Produce json
// @Param body body CodeRequest true "Code"
// @Success 200 {object} domain.Redemption
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /promocodes/redeem [post]
func (h *PromocodeHandler) Redeem(c echo.Context) error {
	var req CodeRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	res, err := h.promocodes.Redeem(c.Request().Context(), principal(c), req.Code)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *PromocodeHandler) Create(c echo.Context) error {
	var req CreatePromocodeRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	promo, err := h.promocodes.Create(c.Request().Context(), domain.CreatePromocodeInput{
		Code:            req.Code,
		PromocodeType:   req.PromocodeType,
		Description:     req.Description,
		PriceRub:        req.PriceRub,
		DiscountPercent: req.DiscountPercent,
		CourseIDs:       req.CourseIDs,
		MaxUses:         req.MaxUses,
		IsActive:        active,
		ExpiresAt:       req.ExpiresAt,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, promo)
}

func (h *PromocodeHandler) List(c echo.Context) error {
	promos, err := h.promocodes.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, promos)
}

func (h *PromocodeHandler) Usages(c echo.Context) error {
	usages, err := h.promocodes.ListUsages(c.Request().Context(), c.Param("code"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, usages)
}
