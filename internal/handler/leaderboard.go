package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zizouhuweidi/ilm/internal/domain"
)

// LeaderboardHandler serves the learner ranking
type LeaderboardHandler struct {
	leaderboard domain.LeaderboardService
}

// NewLeaderboardHandler creates a new leaderboard handler
func NewLeaderboardHandler(leaderboard domain.LeaderboardService) *LeaderboardHandler {
	return &LeaderboardHandler{leaderboard: leaderboard}
}

func (h *LeaderboardHandler) Register(g *echo.Group) {
	g.GET("/leaderboard", h.Top)
}

// Top godoc
// @Summary Leaderboard
// @Description Top learners by total score, most recently active first on ties
// @Tags leaderboard
// @Produce json
// @Success 200 {array} domain.LeaderboardEntry
// @Router /leaderboard [get]
func (h *LeaderboardHandler) Top(c echo.Context) error {
	entries, err := h.leaderboard.Top(c.Request().Context())
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}
