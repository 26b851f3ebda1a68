package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/gateway"
	"github.com/zizouhuweidi/ilm/internal/logger"
	"github.com/zizouhuweidi/ilm/internal/validation"
)

// CatalogService serves the published catalog and the administrative writes behind it
type CatalogService struct {
	gw     gateway.Gateway
	access domain.AccessResolver
	log    *logger.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(gw gateway.Gateway, access domain.AccessResolver, log *logger.Logger) *CatalogService {
	return &CatalogService{gw: gw, access: access, log: log.With("service", "CatalogService")}
}

var _ domain.CatalogService = (*CatalogService)(nil)

func (s *CatalogService) ListPublishedCourses(ctx context.Context) ([]*domain.Course, error) {
	return publishedCourses(ctx, s.gw)
}

// GetCourse looks a course up by id, then by slug. Unpublished courses are
// only visible to administrators.
func (s *CatalogService) GetCourse(ctx context.Context, p *domain.Principal, idOrSlug string) (*domain.Course, error) {
	course, err := getAs[domain.Course](ctx, s.gw, domain.TableCourses, "id", idOrSlug, domain.ErrCourseNotFound)
	if errors.Is(err, domain.ErrCourseNotFound) {
		course, err = getAs[domain.Course](ctx, s.gw, domain.TableCourses, "slug", idOrSlug, domain.ErrCourseNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !course.IsPublished() && !p.IsAdministrator() {
		return nil, domain.ErrCourseNotFound
	}
	return course, nil
}

// consumable loads a course and checks the principal may consume it
func (s *CatalogService) consumable(ctx context.Context, p *domain.Principal, courseID string) (*domain.Course, error) {
	course, err := s.GetCourse(ctx, p, courseID)
	if err != nil {
		return nil, err
	}
	ok, err := s.access.MayConsume(ctx, p, course)
	if err != nil {
		return nil, err
	}
	if !ok && !p.IsAdministrator() {
		return nil, domain.ErrNoAccess
	}
	return course, nil
}

func (s *CatalogService) ListLessons(ctx context.Context, p *domain.Principal, courseID string) ([]*domain.Lesson, error) {
	course, err := s.consumable(ctx, p, courseID)
	if err != nil {
		return nil, err
	}
	filters := gateway.Filters{"course_id": course.ID}
	if !p.IsAdministrator() {
		filters["is_published"] = true
	}
	return listAs[domain.Lesson](ctx, s.gw, domain.TableLessons, gateway.Query{
		Filters: filters,
		OrderBy: []gateway.Order{gateway.Asc("order")},
	})
}

func (s *CatalogService) ListTests(ctx context.Context, p *domain.Principal, courseID string) ([]*domain.Test, error) {
	course, err := s.consumable(ctx, p, courseID)
	if err != nil {
		return nil, err
	}
	filters := gateway.Filters{"course_id": course.ID}
	if !p.IsAdministrator() {
		filters["is_published"] = true
	}
	return listAs[domain.Test](ctx, s.gw, domain.TableTests, gateway.Query{
		Filters: filters,
		OrderBy: []gateway.Order{gateway.Asc("created_at")},
	})
}

func (s *CatalogService) CreateCourse(ctx context.Context, in domain.CreateCourseInput) (*domain.Course, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, domain.InvalidInput("title is required")
	}
	slug := in.Slug
	if strings.TrimSpace(slug) == "" {
		slug = title
	}
	slug = validation.Slug(slug)
	if slug == "" {
		return nil, domain.InvalidInput("title does not yield a slug")
	}
	status := in.Status
	if status == "" {
		status = domain.CourseDraft
	}
	if !status.Valid() {
		return nil, domain.InvalidInput("unknown course status")
	}
	level := in.Level
	if level == "" {
		level = domain.DefaultLevel
	}

	course, err := createAs(ctx, s.gw, domain.TableCourses, &domain.Course{
		Title:          title,
		Slug:           slug,
		Description:    in.Description,
		Level:          level,
		Status:         status,
		TeacherName:    in.TeacherName,
		Order:          in.Order,
		RequiresAccess: in.RequiresAccess,
	}, domain.ErrSlugTaken)
	if err != nil {
		return nil, err
	}
	s.log.Info("course created", "course_id", course.ID, "slug", course.Slug, "status", course.Status)
	return course, nil
}

func (s *CatalogService) CreateLesson(ctx context.Context, in domain.CreateLessonInput) (*domain.Lesson, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" || in.CourseID == "" {
		return nil, domain.InvalidInput("course_id and title are required")
	}
	lessonType := in.LessonType
	if lessonType == "" {
		lessonType = domain.LessonText
	}
	if !lessonType.Valid() {
		return nil, domain.InvalidInput("unknown lesson type")
	}
	slug := in.Slug
	if strings.TrimSpace(slug) == "" {
		slug = title
	}
	slug = validation.Slug(slug)
	if slug == "" {
		return nil, domain.InvalidInput("title does not yield a slug")
	}

	var lesson *domain.Lesson
	err := s.gw.Tx(ctx, func(tx gateway.Gateway) error {
		if _, err := getAs[domain.Course](ctx, tx, domain.TableCourses, "id", in.CourseID, domain.ErrCourseNotFound); err != nil {
			return err
		}
		var err error
		lesson, err = createAs(ctx, tx, domain.TableLessons, &domain.Lesson{
			CourseID:    in.CourseID,
			Title:       title,
			Slug:        slug,
			Content:     in.Content,
			LessonType:  lessonType,
			VideoURL:    validation.NormalizeVideoURL(strings.TrimSpace(in.VideoURL)),
			Order:       in.Order,
			IsPublished: in.IsPublished,
		}, domain.ErrSlugTaken)
		if err != nil {
			return err
		}
		return storeErr(tx.Increment(ctx, domain.TableCourses, "id", in.CourseID, "lessons_count", 1), domain.ErrCourseNotFound)
	})
	if err != nil {
		return nil, storeErr(err, nil)
	}
	s.log.Info("lesson created", "lesson_id", lesson.ID, "course_id", lesson.CourseID)
	return lesson, nil
}

func (s *CatalogService) CreateTest(ctx context.Context, in domain.CreateTestInput) (*domain.Test, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" || in.CourseID == "" {
		return nil, domain.InvalidInput("course_id and title are required")
	}
	passing := domain.DefaultPassingScore
	if in.PassingScore != nil {
		passing = *in.PassingScore
	}
	if passing < 0 || passing > 100 {
		return nil, domain.InvalidInput("passing_score must be between 0 and 100")
	}
	maxAttempts := domain.DefaultMaxAttempts
	if in.MaxAttempts != nil {
		maxAttempts = *in.MaxAttempts
	}
	if maxAttempts < 1 {
		return nil, domain.InvalidInput("max_attempts must be at least 1")
	}
	if in.TimeLimitMinutes != nil && *in.TimeLimitMinutes <= 0 {
		return nil, domain.InvalidInput("time_limit_minutes must be positive")
	}

	var test *domain.Test
	err := s.gw.Tx(ctx, func(tx gateway.Gateway) error {
		if _, err := getAs[domain.Course](ctx, tx, domain.TableCourses, "id", in.CourseID, domain.ErrCourseNotFound); err != nil {
			return err
		}
		if in.LessonID != nil {
			lesson, err := getAs[domain.Lesson](ctx, tx, domain.TableLessons, "id", *in.LessonID, domain.ErrLessonNotFound)
			if err != nil {
				return err
			}
			if lesson.CourseID != in.CourseID {
				return domain.InvalidInput("lesson belongs to another course")
			}
		}
		var err error
		test, err = createAs(ctx, tx, domain.TableTests, &domain.Test{
			CourseID:         in.CourseID,
			LessonID:         in.LessonID,
			Title:            title,
			Description:      in.Description,
			TimeLimitMinutes: in.TimeLimitMinutes,
			PassingScore:     passing,
			MaxAttempts:      maxAttempts,
			IsPublished:      in.IsPublished,
		}, nil)
		if err != nil {
			return err
		}
		return storeErr(tx.Increment(ctx, domain.TableCourses, "id", in.CourseID, "tests_count", 1), domain.ErrCourseNotFound)
	})
	if err != nil {
		return nil, storeErr(err, nil)
	}
	s.log.Info("test created", "test_id", test.ID, "course_id", test.CourseID)
	return test, nil
}

// AddQuestion validates and appends a question to a test's pool. Options
// without an id get a positional one.
func (s *CatalogService) AddQuestion(ctx context.Context, in domain.CreateQuestionInput) (*domain.Question, error) {
	if _, err := getAs[domain.Test](ctx, s.gw, domain.TableTests, "id", in.TestID, domain.ErrTestNotFound); err != nil {
		return nil, err
	}

	q := &domain.Question{
		TestID:        in.TestID,
		Text:          strings.TrimSpace(in.Text),
		QuestionType:  in.QuestionType,
		Options:       make([]domain.Option, len(in.Options)),
		CorrectAnswer: in.CorrectAnswer,
		Points:        domain.DefaultPoints,
	}
	copy(q.Options, in.Options)
	for i := range q.Options {
		if q.Options[i].ID == "" {
			q.Options[i].ID = fmt.Sprintf("opt_%d", i+1)
		}
	}
	if in.Points != nil {
		q.Points = *in.Points
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if in.Order != nil {
		q.Order = *in.Order
	} else {
		n, err := s.gw.Count(ctx, domain.TableQuestions, gateway.Filters{"test_id": in.TestID})
		if err != nil {
			return nil, storeErr(err, nil)
		}
		q.Order = n + 1
	}

	return createAs(ctx, s.gw, domain.TableQuestions, q, nil)
}

// ListStudents returns learners by email, without credentials
func (s *CatalogService) ListStudents(ctx context.Context) ([]*domain.Student, error) {
	students, err := listAs[domain.Student](ctx, s.gw, domain.TableStudents, gateway.Query{
		OrderBy: []gateway.Order{gateway.Asc("email")},
	})
	if err != nil {
		return nil, err
	}
	for _, st := range students {
		st.PasswordHash = ""
	}
	return students, nil
}
