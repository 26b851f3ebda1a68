package handler

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zizouhuweidi/ilm/internal/domain"
)

// QuizHandler handles test sessions
type QuizHandler struct {
	quiz domain.QuizService
}

// NewQuizHandler creates a new quiz handler
func NewQuizHandler(quiz domain.QuizService) *QuizHandler {
	return &QuizHandler{quiz: quiz}
}

// Register registers the test routes behind auth
func (h *QuizHandler) Register(g *echo.Group, auth echo.MiddlewareFunc) {
	tests := g.Group("/tests", auth)
	tests.POST("/:id/start", h.Start)
	tests.POST("/:id/submit", h.Submit)
	tests.GET("/:id/attempts", h.Attempts)
}

// SubmitRequest carries the answers of a session keyed by question id
type SubmitRequest struct {
	SessionID string                     `json:"session_id" validate:"required,notblank"`
	Answers   map[string]json.RawMessage `json:"answers"`
}

// Start godoc
// @Summary Start a test session
// @Description Samples the question pool and shuffles options for the caller
// @Tags tests
// @Produce json
// @Param id path string true "Test ID"
// @Success 201 {object} domain.SessionView
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /tests/{id}/start [post]
func (h *QuizHandler) Start(c echo.Context) error {
	view, err := h.quiz.StartSession(c.Request().Context(), principal(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, view)
}

// Submit godoc
// @Summary Submit a test session
// @Tags tests
// @Accept json
// @Produce json
// @Param id path string true "Test ID"
// @Param answers body SubmitRequest true "Answers"
// @Success 200 {object} domain.SubmitResult
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /tests/{id}/submit [post]
func (h *QuizHandler) Submit(c echo.Context) error {
	var req SubmitRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	res, err := h.quiz.Submit(c.Request().Context(), principal(c), c.Param("id"), req.SessionID, req.Answers)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *QuizHandler) Attempts(c echo.Context) error {
	attempts, err := h.quiz.ListAttempts(c.Request().Context(), principal(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, attempts)
}
