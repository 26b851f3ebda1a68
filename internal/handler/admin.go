package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zizouhuweidi/ilm/internal/domain"
)

// AdminHandler handles catalog administration
type AdminHandler struct {
	catalog domain.CatalogService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(catalog domain.CatalogService) *AdminHandler {
	return &AdminHandler{catalog: catalog}
}

// Register registers the catalog management routes on the admin group
func (h *AdminHandler) Register(admin *echo.Group) {
	admin.POST("/courses", h.CreateCourse)
	admin.POST("/lessons", h.CreateLesson)
	admin.POST("/tests", h.CreateTest)
	admin.POST("/tests/:id/questions", h.AddQuestion)
	admin.GET("/students", h.ListStudents)
}

type CreateCourseRequest struct {
	Title          string              `json:"title" validate:"required,notblank,max=200"`
	Slug           string              `json:"slug" validate:"omitempty,max=200"`
	Description    string              `json:"description"`
	Level          string              `json:"level" validate:"omitempty,max=50"`
	Status         domain.CourseStatus `json:"status" validate:"omitempty,oneof=draft published archived"`
	TeacherName    string              `json:"teacher_name" validate:"omitempty,max=100"`
	Order          int                 `json:"order"`
	RequiresAccess bool                `json:"requires_access"`
}

type CreateLessonRequest struct {
	CourseID    string            `json:"course_id" validate:"required,notblank"`
	Title       string            `json:"title" validate:"required,notblank,max=200"`
	Slug        string            `json:"slug" validate:"omitempty,max=200"`
	Content     string            `json:"content"`
	LessonType  domain.LessonType `json:"lesson_type" validate:"omitempty,oneof=video text mixed"`
	VideoURL    string            `json:"video_url" validate:"omitempty,url"`
	Order       int               `json:"order"`
	IsPublished bool              `json:"is_published"`
}

type CreateTestRequest struct {
	CourseID         string  `json:"course_id" validate:"required,notblank"`
	LessonID         *string `json:"lesson_id"`
	Title            string  `json:"title" validate:"required,notblank,max=200"`
	Description      string  `json:"description"`
	TimeLimitMinutes *int    `json:"time_limit_minutes" validate:"omitempty,gte=1"`
	PassingScore     *int    `json:"passing_score" validate:"omitempty,gte=0,lte=100"`
	MaxAttempts      *int    `json:"max_attempts" validate:"omitempty,gte=1"`
	IsPublished      bool    `json:"is_published"`
}

type CreateQuestionRequest struct {
	Text          string              `json:"text" validate:"required,notblank"`
	QuestionType  domain.QuestionType `json:"question_type" validate:"required,oneof=single_choice multiple_choice true_false text_input"`
	Options       []domain.Option     `json:"options"`
	CorrectAnswer *string             `json:"correct_answer"`
	Points        *int                `json:"points" validate:"omitempty,gte=1"`
	Order         *int                `json:"order"`
}

func (h *AdminHandler) CreateCourse(c echo.Context) error {
	var req CreateCourseRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	course, err := h.catalog.CreateCourse(c.Request().Context(), domain.CreateCourseInput{
		Title:          req.Title,
		Slug:           req.Slug,
		Description:    req.Description,
		Level:          req.Level,
		Status:         req.Status,
		TeacherName:    req.TeacherName,
		Order:          req.Order,
		RequiresAccess: req.RequiresAccess,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, course)
}

func (h *AdminHandler) CreateLesson(c echo.Context) error {
	var req CreateLessonRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	lesson, err := h.catalog.CreateLesson(c.Request().Context(), domain.CreateLessonInput{
		CourseID:    req.CourseID,
		Title:       req.Title,
		Slug:        req.Slug,
		Content:     req.Content,
		LessonType:  req.LessonType,
		VideoURL:    req.VideoURL,
		Order:       req.Order,
		IsPublished: req.IsPublished,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, lesson)
}

func (h *AdminHandler) CreateTest(c echo.Context) error {
	var req CreateTestRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	test, err := h.catalog.CreateTest(c.Request().Context(), domain.CreateTestInput{
		CourseID:         req.CourseID,
		LessonID:         req.LessonID,
		Title:            req.Title,
		Description:      req.Description,
		TimeLimitMinutes: req.TimeLimitMinutes,
		PassingScore:     req.PassingScore,
		MaxAttempts:      req.MaxAttempts,
		IsPublished:      req.IsPublished,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, test)
}

func (h *AdminHandler) AddQuestion(c echo.Context) error {
	var req CreateQuestionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	q, err := h.catalog.AddQuestion(c.Request().Context(), domain.CreateQuestionInput{
		TestID:        c.Param("id"),
		Text:          req.Text,
		QuestionType:  req.QuestionType,
		Options:       req.Options,
		CorrectAnswer: req.CorrectAnswer,
		Points:        req.Points,
		Order:         req.Order,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, q)
}

func (h *AdminHandler) ListStudents(c echo.Context) error {
	students, err := h.catalog.ListStudents(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, students)
}
