package domain

import (
	"context"
	"time"
)

// Table names
const (
	TableCourses      = "courses"
	TableLessons      = "lessons"
	TableCourseAccess = "course_access"
)

// CourseStatus is the publication state of a course
type CourseStatus string

const (
	CourseDraft     CourseStatus = "draft"
	CoursePublished CourseStatus = "published"
	CourseArchived  CourseStatus = "archived"
)

// Valid reports whether s is a known status
func (s CourseStatus) Valid() bool {
	switch s {
	case CourseDraft, CoursePublished, CourseArchived:
		return true
	}
	return false
}

// LessonType describes how a lesson is delivered
type LessonType string

const (
	LessonVideo LessonType = "video"
	LessonText  LessonType = "text"
	LessonMixed LessonType = "mixed"
)

// Valid reports whether t is a known lesson type
func (t LessonType) Valid() bool {
	switch t {
	case LessonVideo, LessonText, LessonMixed:
		return true
	}
	return false
}

// Course represents a course in the catalog
type Course struct {
	ID             string       `json:"id,omitempty"`
	Title          string       `json:"title"`
	Slug           string       `json:"slug"`
	Description    string       `json:"description"`
	Level          string       `json:"level"`
	Status         CourseStatus `json:"status"`
	TeacherName    string       `json:"teacher_name"`
	Order          int          `json:"order"`
	RequiresAccess bool         `json:"requires_access"`
	LessonsCount   int          `json:"lessons_count"`
	TestsCount     int          `json:"tests_count"`
	CreatedAt      time.Time    `json:"created_at,omitzero"`
	UpdatedAt      time.Time    `json:"updated_at,omitzero"`
}

// IsPublished reports whether the course is visible in the catalog
func (c *Course) IsPublished() bool {
	return c.Status == CoursePublished
}

// Lesson represents a lesson within a course
type Lesson struct {
	ID          string     `json:"id,omitempty"`
	CourseID    string     `json:"course_id"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug"`
	Content     string     `json:"content"`
	LessonType  LessonType `json:"lesson_type"`
	VideoURL    string     `json:"video_url"`
	Order       int        `json:"order"`
	IsPublished bool       `json:"is_published"`
	CreatedAt   time.Time  `json:"created_at,omitzero"`
	UpdatedAt   time.Time  `json:"updated_at,omitzero"`
}

// AccessGrant asserts that a learner email may consume a course
type AccessGrant struct {
	ID           string    `json:"id,omitempty"`
	StudentEmail string    `json:"student_email"`
	CourseID     string    `json:"course_id"`
	PromocodeID  *string   `json:"promocode_id,omitempty"`
	GrantedAt    time.Time `json:"granted_at"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
}

// AccessibleCourse is a published course annotated with the caller's grant state
type AccessibleCourse struct {
	Course
	HasGrant bool `json:"has_grant"`
}

// CreateCourseInput carries the fields an administrator may set on a new course
type CreateCourseInput struct {
	Title          string
	Slug           string
	Description    string
	Level          string
	Status         CourseStatus
	TeacherName    string
	Order          int
	RequiresAccess bool
}

// CreateLessonInput carries the fields of a new lesson
type CreateLessonInput struct {
	CourseID    string
	Title       string
	Slug        string
	Content     string
	LessonType  LessonType
	VideoURL    string
	Order       int
	IsPublished bool
}

// CatalogService defines the catalog read model and its administrative writes
type CatalogService interface {
	// ListPublishedCourses returns published courses ordered by level then order
	ListPublishedCourses(ctx context.Context) ([]*Course, error)

	// GetCourse resolves a course by id or slug, hiding unpublished courses from non-administrators
	GetCourse(ctx context.Context, p *Principal, idOrSlug string) (*Course, error)

	// ListLessons returns the published lessons of a course the principal may consume
	ListLessons(ctx context.Context, p *Principal, courseID string) ([]*Lesson, error)

	// ListTests returns the published tests of a course the principal may consume
	ListTests(ctx context.Context, p *Principal, courseID string) ([]*Test, error)

	// CreateCourse creates a course, deriving the slug from the title when absent
	CreateCourse(ctx context.Context, in CreateCourseInput) (*Course, error)

	// CreateLesson creates a lesson and normalizes its video URL
	CreateLesson(ctx context.Context, in CreateLessonInput) (*Lesson, error)

	// CreateTest creates a test with default passing score and attempts
	CreateTest(ctx context.Context, in CreateTestInput) (*Test, error)

	// AddQuestion appends a validated question to a test's pool
	AddQuestion(ctx context.Context, in CreateQuestionInput) (*Question, error)

	// ListStudents returns learners ordered by email
	ListStudents(ctx context.Context) ([]*Student, error)
}

// AccessResolver decides whether a principal may consume a course
type AccessResolver interface {
	// MayConsume reports whether the principal may read the course's lessons and tests
	MayConsume(ctx context.Context, p *Principal, course *Course) (bool, error)

	// ListAccessible returns published courses with a per-course grant flag
	ListAccessible(ctx context.Context, p *Principal) ([]*AccessibleCourse, error)
}
