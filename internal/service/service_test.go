package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/gateway"
	"github.com/zizouhuweidi/ilm/internal/gateway/memory"
	"github.com/zizouhuweidi/ilm/internal/logger"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func identityPerm(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return p
}

func reversePerm(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = n - 1 - i
	}
	return p
}

// testClock is a settable clock shared by the services under test
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ctx     context.Context
	store   *memory.Store
	clock   *testClock
	log     *logger.Logger
	access  *AccessService
	catalog *CatalogService
}

func newFixture(t *testing.T, gating bool) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewWithSchema(memory.WithClock(clock.Now))
	log := logger.NewNop()
	access := NewAccessService(store, gating)
	return &fixture{
		ctx:     context.Background(),
		store:   store,
		clock:   clock,
		log:     log,
		access:  access,
		catalog: NewCatalogService(store, access, log),
	}
}

func (f *fixture) quiz(opts ...QuizOption) *QuizService {
	base := []QuizOption{WithQuizClock(f.clock.Now), WithPermutation(identityPerm)}
	return NewQuizService(f.store, f.access, f.log, append(base, opts...)...)
}

func (f *fixture) promocodes(opts ...PromocodeOption) *PromocodeService {
	return NewPromocodeService(f.store, f.log, append([]PromocodeOption{WithPromocodeClock(f.clock.Now)}, opts...)...)
}

func (f *fixture) student(t *testing.T, email string) *domain.Principal {
	t.Helper()
	st, err := createAs(f.ctx, f.store, domain.TableStudents, &domain.Student{
		Email:            email,
		Name:             email,
		IsActive:         true,
		CurrentLevel:     domain.DefaultLevel,
		CompletedCourses: []string{},
	}, nil)
	require.NoError(t, err)
	return domain.StudentPrincipal(st)
}

func (f *fixture) loadStudent(t *testing.T, id string) *domain.Student {
	t.Helper()
	st, err := getAs[domain.Student](f.ctx, f.store, domain.TableStudents, "id", id, nil)
	require.NoError(t, err)
	return st
}

func (f *fixture) course(t *testing.T, title string, status domain.CourseStatus, requiresAccess bool) *domain.Course {
	t.Helper()
	c, err := f.catalog.CreateCourse(f.ctx, domain.CreateCourseInput{Title: title, Status: status, RequiresAccess: requiresAccess})
	require.NoError(t, err)
	return c
}

func (f *fixture) test(t *testing.T, courseID string, in domain.CreateTestInput) *domain.Test {
	t.Helper()
	in.CourseID = courseID
	if in.Title == "" {
		in.Title = "Quiz"
	}
	in.IsPublished = true
	tst, err := f.catalog.CreateTest(f.ctx, in)
	require.NoError(t, err)
	return tst
}

// singleChoice adds a two option question whose first option is correct
func (f *fixture) singleChoice(t *testing.T, testID string, n int) *domain.Question {
	t.Helper()
	q, err := f.catalog.AddQuestion(f.ctx, domain.CreateQuestionInput{
		TestID:       testID,
		Text:         fmt.Sprintf("question %d", n),
		QuestionType: domain.SingleChoice,
		Options: []domain.Option{
			{Text: "right", IsCorrect: true},
			{Text: "wrong"},
		},
	})
	require.NoError(t, err)
	return q
}

func answersFor(view *domain.SessionView, pick func(q domain.QuestionView) string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(view.Questions))
	for _, q := range view.Questions {
		out[q.ID] = json.RawMessage(pick(q))
	}
	return out
}

// correctIndex finds the display index of the option named "right"
func correctIndex(q domain.QuestionView) string {
	for _, o := range q.Options {
		if o.Text == "right" {
			return fmt.Sprint(o.Index)
		}
	}
	return "null"
}

func wrongIndex(q domain.QuestionView) string {
	for _, o := range q.Options {
		if o.Text != "right" {
			return fmt.Sprint(o.Index)
		}
	}
	return "null"
}

func rows(store *memory.Store, table string) []gateway.Record {
	return store.Dump(table)
}
