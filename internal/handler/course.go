package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zizouhuweidi/ilm/internal/domain"
)

// CourseHandler serves the catalog read model
type CourseHandler struct {
	catalog domain.CatalogService
}

// NewCourseHandler creates a new course handler
func NewCourseHandler(catalog domain.CatalogService) *CourseHandler {
	return &CourseHandler{catalog: catalog}
}

// Register registers the course routes; optionalAuth lets administrators see drafts
func (h *CourseHandler) Register(g *echo.Group, optionalAuth echo.MiddlewareFunc) {
	courses := g.Group("/courses", optionalAuth)
	courses.GET("", h.List)
	courses.GET("/:id", h.Get)
	courses.GET("/:id/lessons", h.Lessons)
	courses.GET("/:id/tests", h.Tests)
}

// List godoc
// @Summary List published courses
// @Tags courses
// @Produce json
// @Success 200 {array} domain.Course
// @Router /courses [get]
func (h *CourseHandler) List(c echo.Context) error {
	courses, err := h.catalog.ListPublishedCourses(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, courses)
}

// Get resolves a course by id or slug
func (h *CourseHandler) Get(c echo.Context) error {
	course, err := h.catalog.GetCourse(c.Request().Context(), principal(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, course)
}

func (h *CourseHandler) Lessons(c echo.Context) error {
	lessons, err := h.catalog.ListLessons(c.Request().Context(), principal(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lessons)
}

func (h *CourseHandler) Tests(c echo.Context) error {
	tests, err := h.catalog.ListTests(c.Request().Context(), principal(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tests)
}
