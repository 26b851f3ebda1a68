package service

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/gateway"
	"github.com/zizouhuweidi/ilm/internal/logger"
)

// DefaultPoolSampleSize is the number of questions drawn per session
const DefaultPoolSampleSize = 10

var errAttemptRace = domain.NewError(domain.KindConflict, "attempt_conflict", "another submission for this test is in progress, try again")

// QuizService runs test sessions: sampling, shuffling, grading and scoring
type QuizService struct {
	gw          gateway.Gateway
	access      domain.AccessResolver
	leaderboard domain.LeaderboardService
	sampleSize  int
	now         Clock
	perm        func(n int) []int
	log         *logger.Logger
}

// QuizOption configures a QuizService
type QuizOption func(*QuizService)

// WithSampleSize sets how many questions a session draws from the pool
func WithSampleSize(n int) QuizOption {
	return func(s *QuizService) {
		if n > 0 {
			s.sampleSize = n
		}
	}
}

// WithQuizClock overrides the time source
func WithQuizClock(now Clock) QuizOption {
	return func(s *QuizService) { s.now = now }
}

// WithPermutation overrides the random permutation source used for sampling and shuffling
func WithPermutation(perm func(n int) []int) QuizOption {
	return func(s *QuizService) { s.perm = perm }
}

// WithLeaderboard invalidates the leaderboard after scoring submissions
func WithLeaderboard(lb domain.LeaderboardService) QuizOption {
	return func(s *QuizService) { s.leaderboard = lb }
}

// NewQuizService creates a new quiz engine
func NewQuizService(gw gateway.Gateway, access domain.AccessResolver, log *logger.Logger, opts ...QuizOption) *QuizService {
	s := &QuizService{
		gw:         gw,
		access:     access,
		sampleSize: DefaultPoolSampleSize,
		now:        utcNow,
		perm:       rand.Perm,
		log:        log.With("service", "QuizService"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.QuizService = (*QuizService)(nil)

// StartSession creates a session for the learner with a sampled, shuffled question set
func (s *QuizService) StartSession(ctx context.Context, p *domain.Principal, testID string) (*domain.SessionView, error) {
	if !p.IsLearner() {
		return nil, domain.ErrLearnerRequired
	}
	test, err := s.consumableTest(ctx, p, testID)
	if err != nil {
		return nil, err
	}

	completed, err := s.gw.Count(ctx, domain.TableTestSessions, gateway.Filters{
		"student_id":   p.ID,
		"test_id":      test.ID,
		"is_completed": true,
	})
	if err != nil {
		return nil, storeErr(err, nil)
	}
	if completed >= test.MaxAttempts {
		return nil, domain.ErrAttemptsExhausted
	}

	pool, err := listAs[domain.Question](ctx, s.gw, domain.TableQuestions, gateway.Query{
		Filters: gateway.Filters{"test_id": test.ID},
		OrderBy: []gateway.Order{gateway.Asc("order")},
	})
	if err != nil {
		return nil, err
	}

	selected := s.sample(pool)
	selectedIDs := make([]string, len(selected))
	shuffled := make(map[string][]int)
	for i, q := range selected {
		selectedIDs[i] = q.ID
		if q.QuestionType.HasOptions() {
			shuffled[q.ID] = s.perm(len(q.Options))
		}
	}

	startedAt := s.now()
	session, err := createAs(ctx, s.gw, domain.TableTestSessions, &domain.TestSession{
		StudentID:         p.ID,
		TestID:            test.ID,
		CourseID:          test.CourseID,
		LessonID:          test.LessonID,
		SelectedQuestions: selectedIDs,
		ShuffledOptions:   shuffled,
		Answers:           map[string]json.RawMessage{},
		StartedAt:         startedAt,
	}, nil)
	if err != nil {
		return nil, err
	}
	s.log.Info("test session started",
		"session_id", session.ID, "test_id", test.ID, "student_id", p.ID,
		"pool_size", len(pool), "selected", len(selectedIDs))

	return &domain.SessionView{
		SessionID:        session.ID,
		TestID:           test.ID,
		Title:            test.Title,
		TimeLimitMinutes: test.TimeLimitMinutes,
		PassingScore:     test.PassingScore,
		StartedAt:        session.StartedAt,
		AttemptNumber:    completed + 1,
		Questions:        project(selected, shuffled),
	}, nil
}

// sample takes the whole pool in order when it fits, otherwise a uniform random
// sample in sampled order
func (s *QuizService) sample(pool []*domain.Question) []*domain.Question {
	if len(pool) <= s.sampleSize {
		return pool
	}
	idx := s.perm(len(pool))[:s.sampleSize]
	out := make([]*domain.Question, len(idx))
	for i, j := range idx {
		out[i] = pool[j]
	}
	return out
}

// project renders questions for the learner with options in display order
func project(questions []*domain.Question, shuffled map[string][]int) []domain.QuestionView {
	views := make([]domain.QuestionView, 0, len(questions))
	for _, q := range questions {
		v := domain.QuestionView{
			ID:           q.ID,
			Text:         q.Text,
			QuestionType: q.QuestionType,
			Points:       q.Points,
			Options:      []domain.OptionView{},
		}
		perm := shuffled[q.ID]
		for display := range q.Options {
			orig := display
			if len(perm) == len(q.Options) {
				orig = perm[display]
			}
			o := q.Options[orig]
			v.Options = append(v.Options, domain.OptionView{Index: display, ID: o.ID, Text: o.Text})
		}
		views = append(views, v)
	}
	return views
}

// consumableTest loads a published test whose course the learner may consume
func (s *QuizService) consumableTest(ctx context.Context, p *domain.Principal, testID string) (*domain.Test, error) {
	test, err := getAs[domain.Test](ctx, s.gw, domain.TableTests, "id", testID, domain.ErrTestNotFound)
	if err != nil {
		return nil, err
	}
	if !test.IsPublished {
		return nil, domain.ErrTestNotFound
	}
	course, err := getAs[domain.Course](ctx, s.gw, domain.TableCourses, "id", test.CourseID, domain.ErrTestNotFound)
	if err != nil {
		return nil, err
	}
	if !course.IsPublished() {
		return nil, domain.ErrTestNotFound
	}
	ok, err := s.access.MayConsume(ctx, p, course)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNoAccess
	}
	return test, nil
}

// Submit grades and finalizes a session. The session flip, attempt record and
// score update commit together; a late submission is recorded ungraded with
// zero score, still counts as an attempt, and is reported as expired.
func (s *QuizService) Submit(ctx context.Context, p *domain.Principal, testID, sessionID string, answers map[string]json.RawMessage) (*domain.SubmitResult, error) {
	if !p.IsLearner() {
		return nil, domain.ErrLearnerRequired
	}
	session, err := getAs[domain.TestSession](ctx, s.gw, domain.TableTestSessions, "id", sessionID, domain.ErrSessionNotFound)
	if err != nil {
		return nil, err
	}
	if testID != "" && session.TestID != testID {
		return nil, domain.ErrSessionNotFound
	}
	if session.StudentID != p.ID {
		return nil, domain.ErrNotSessionOwner
	}
	if session.IsCompleted {
		return nil, domain.ErrAlreadyCompleted
	}
	test, err := getAs[domain.Test](ctx, s.gw, domain.TableTests, "id", session.TestID, domain.ErrTestNotFound)
	if err != nil {
		return nil, err
	}

	questions, err := s.selectedQuestions(ctx, session.SelectedQuestions)
	if err != nil {
		return nil, err
	}
	if answers == nil {
		answers = map[string]json.RawMessage{}
	}
	now := s.now()
	expired := test.TimeLimitMinutes != nil &&
		now.After(session.StartedAt.Add(time.Duration(*test.TimeLimitMinutes)*time.Minute))

	// late answers are stored as sent but never graded
	var g grade
	if expired {
		g = grade{TotalPoints: totalPoints(session.SelectedQuestions, questions)}
	} else {
		g, err = gradeSession(session.SelectedQuestions, questions, session.ShuffledOptions, answers)
		if err != nil {
			return nil, err
		}
	}
	passed := !expired && g.passes(test.PassingScore)

	var result *domain.SubmitResult
	err = s.gw.Tx(ctx, func(tx gateway.Gateway) error {
		var err error
		result, err = s.finalize(ctx, tx, session, test, answers, g, passed, expired, now)
		return err
	})
	if err != nil {
		if errors.Is(err, gateway.ErrConflict) {
			return nil, errAttemptRace
		}
		return nil, storeErr(err, nil)
	}

	s.log.Info("test session submitted",
		"session_id", session.ID, "test_id", test.ID, "student_id", p.ID,
		"score", result.Score, "total_points", result.TotalPoints, "passed", result.IsPassed,
		"retake", result.IsRetake, "points_earned", result.PointsEarned, "expired", expired)

	// last_activity moved even when no points were earned
	if s.leaderboard != nil {
		if err := s.leaderboard.Invalidate(ctx, domain.EventLeaderboardUpdated); err != nil {
			s.log.Warn("leaderboard invalidation failed", "error", err)
		}
	}

	if expired {
		return nil, domain.ErrSessionExpired
	}
	return result, nil
}

func (s *QuizService) finalize(
	ctx context.Context,
	tx gateway.Gateway,
	session *domain.TestSession,
	test *domain.Test,
	answers map[string]json.RawMessage,
	g grade,
	passed, expired bool,
	now time.Time,
) (*domain.SubmitResult, error) {
	taken := int(now.Sub(session.StartedAt) / time.Minute)
	if taken < 0 {
		taken = 0
	}

	patch, err := gateway.Encode(map[string]any{
		"answers":            answers,
		"score":              g.Score,
		"total_points":       g.TotalPoints,
		"percentage":         g.Percentage,
		"is_passed":          passed,
		"is_completed":       true,
		"completed_at":       now,
		"time_taken_minutes": taken,
	})
	if err != nil {
		return nil, err
	}
	// the is_completed guard makes the flip a check-and-set
	flipped, err := tx.UpdateWhere(ctx, domain.TableTestSessions,
		gateway.Filters{"id": session.ID, "is_completed": false}, patch)
	if err != nil {
		return nil, err
	}
	if len(flipped) == 0 {
		return nil, domain.ErrAlreadyCompleted
	}

	prior, err := tx.Count(ctx, domain.TableTestAttempts, gateway.Filters{
		"student_id": session.StudentID,
		"test_id":    session.TestID,
	})
	if err != nil {
		return nil, err
	}
	if prior >= test.MaxAttempts {
		return nil, domain.ErrAttemptsExhausted
	}
	firstAttempt := prior == 0

	if _, err := createAs(ctx, tx, domain.TableTestAttempts, &domain.TestAttempt{
		SessionID:     session.ID,
		StudentID:     session.StudentID,
		TestID:        session.TestID,
		CourseID:      session.CourseID,
		AttemptNumber: prior + 1,
		Answers:       answers,
		Score:         g.Score,
		TotalPoints:   g.TotalPoints,
		Percentage:    g.Percentage,
		IsPassed:      passed,
		IsExpired:     expired,
		StartedAt:     session.StartedAt,
		CompletedAt:   now,
	}, nil); err != nil {
		return nil, err
	}

	earned := 0
	if firstAttempt {
		earned = domain.CompletionBonus + g.CorrectCount
	}
	if earned > 0 {
		if err := tx.Increment(ctx, domain.TableStudents, "id", session.StudentID, "total_score", earned); err != nil {
			return nil, storeErr(err, domain.ErrStudentNotFound)
		}
	}
	if passed {
		if err := tx.AddToSet(ctx, domain.TableStudents, "id", session.StudentID, "completed_courses", session.CourseID); err != nil {
			return nil, storeErr(err, domain.ErrStudentNotFound)
		}
	}
	if _, err := tx.Update(ctx, domain.TableStudents, "id", session.StudentID, gateway.Record{"last_activity": stamp(now)}); err != nil {
		return nil, storeErr(err, domain.ErrStudentNotFound)
	}

	return &domain.SubmitResult{
		SessionID:     session.ID,
		Score:         g.Score,
		TotalPoints:   g.TotalPoints,
		Percentage:    g.Percentage,
		IsPassed:      passed,
		IsRetake:      !firstAttempt,
		PointsEarned:  earned,
		CorrectCount:  g.CorrectCount,
		AttemptNumber: prior + 1,
		Message:       resultMessage(passed, !firstAttempt, test.PassingScore),
	}, nil
}

func (s *QuizService) selectedQuestions(ctx context.Context, ids []string) (map[string]*domain.Question, error) {
	out := make(map[string]*domain.Question, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	questions, err := listAs[domain.Question](ctx, s.gw, domain.TableQuestions, gateway.Query{
		Filters: gateway.Filters{"id": gateway.In(ids...)},
	})
	if err != nil {
		return nil, err
	}
	for _, q := range questions {
		out[q.ID] = q
	}
	return out, nil
}

// ListAttempts returns the learner's attempts for a test by attempt number
func (s *QuizService) ListAttempts(ctx context.Context, p *domain.Principal, testID string) ([]*domain.TestAttempt, error) {
	if !p.IsLearner() {
		return nil, domain.ErrLearnerRequired
	}
	return listAs[domain.TestAttempt](ctx, s.gw, domain.TableTestAttempts, gateway.Query{
		Filters: gateway.Filters{"student_id": p.ID, "test_id": testID},
		OrderBy: []gateway.Order{gateway.Asc("attempt_number")},
	})
}

func resultMessage(passed, retake bool, passingScore int) string {
	var msg string
	if passed {
		msg = "Test passed."
	} else {
		msg = "Test not passed. The passing score is " + strconv.Itoa(passingScore) + "%."
	}
	if retake {
		msg += " Retakes do not change your total score."
	}
	return msg
}
