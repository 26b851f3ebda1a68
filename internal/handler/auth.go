package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zizouhuweidi/ilm/internal/domain"
)

// AuthHandler handles login and the caller's own profile
type AuthHandler struct {
	identity domain.IdentityService
	access   domain.AccessResolver
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(identity domain.IdentityService, access domain.AccessResolver) *AuthHandler {
	return &AuthHandler{identity: identity, access: access}
}

// Register registers the auth routes; auth guards the profile routes
func (h *AuthHandler) Register(g *echo.Group, auth echo.MiddlewareFunc) {
	g.POST("/login", h.Login)
	g.GET("/me", h.Me, auth)
	g.GET("/my/courses", h.MyCourses, auth)
}

// LoginRequest is the unified login body for learners and administrators
type LoginRequest struct {
	Email    string `json:"email" validate:"required,notblank,max=254"`
	Password string `json:"password" validate:"required"`
}

// Login godoc
// @Summary Login
// @Description Authenticate by email and password; unknown learners are provisioned
// @Tags auth
// @Accept json
// @Produce json
// @Param credentials body LoginRequest true "Login credentials"
// @Success 200 {object} domain.LoginResult
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	res, err := h.identity.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// Me returns the learner record, or the principal for administrators
func (h *AuthHandler) Me(c echo.Context) error {
	p := principal(c)
	if !p.IsLearner() {
		return c.JSON(http.StatusOK, p)
	}
	st, err := h.identity.GetStudent(c.Request().Context(), p.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

// MyCourses lists published courses with the caller's grant flags
func (h *AuthHandler) MyCourses(c echo.Context) error {
	courses, err := h.access.ListAccessible(c.Request().Context(), principal(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, courses)
}
