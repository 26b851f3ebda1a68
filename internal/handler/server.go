package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/logger"
	"github.com/zizouhuweidi/ilm/internal/storage"
	ws "github.com/zizouhuweidi/ilm/internal/websocket"
)

// Pinger reports whether the backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the HTTP surface is built on
type Deps struct {
	Store       Pinger
	Identity    domain.IdentityService
	Access      domain.AccessResolver
	Catalog     domain.CatalogService
	Quiz        domain.QuizService
	Promocodes  domain.PromocodeService
	Leaderboard domain.LeaderboardService
	Hub         *ws.Hub
	Images      *storage.ImageStorage
	Log         *logger.Logger
}

// NewServer builds the echo instance with middleware and every route under /api
func NewServer(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = NewHTTPErrorHandler(d.Log)
	e.Validator = RequestValidator{}

	// Middleware
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.RequestID())
	e.Use(RequestLogger(d.Log))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit("6M"))

	// Health check endpoint
	e.GET("/health", func(c echo.Context) error {
		if err := d.Store.Ping(c.Request().Context()); err != nil {
			return domain.Unavailable(err)
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	auth := Authenticate(d.Identity, false)
	optionalAuth := Authenticate(d.Identity, true)

	api := e.Group("/api")
	admin := api.Group("/admin", auth, RequireAdmin(d.Identity))

	NewAuthHandler(d.Identity, d.Access).Register(api, auth)
	NewCourseHandler(d.Catalog).Register(api, optionalAuth)
	NewQuizHandler(d.Quiz).Register(api, auth)
	NewLeaderboardHandler(d.Leaderboard).Register(api)

	promos := NewPromocodeHandler(d.Promocodes)
	promos.Register(api, auth, optionalAuth)
	promos.RegisterAdmin(admin)

	NewAdminHandler(d.Catalog).Register(admin)

	if d.Images != nil {
		NewImageHandler(d.Images).Register(api, admin)
	}
	if d.Hub != nil {
		NewWebSocketHandler(d.Hub).Register(api)
	}

	return e
}
