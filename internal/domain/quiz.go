package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Table names
const (
	TableTests        = "tests"
	TableQuestions    = "questions"
	TableTestSessions = "test_sessions"
	TableTestAttempts = "test_attempts"
)

// Test defaults
const (
	DefaultPassingScore = 70
	DefaultMaxAttempts  = 3
	DefaultPoints       = 1
	CompletionBonus     = 5
)

// QuestionType is the answer shape a question expects
type QuestionType string

const (
	SingleChoice   QuestionType = "single_choice"
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	TextInput      QuestionType = "text_input"
)

// Valid reports whether t is a known question type
func (t QuestionType) Valid() bool {
	switch t {
	case SingleChoice, MultipleChoice, TrueFalse, TextInput:
		return true
	}
	return false
}

// HasOptions reports whether questions of this type carry shuffled options
func (t QuestionType) HasOptions() bool {
	return t == SingleChoice || t == MultipleChoice || t == TrueFalse
}

// Option is one answer choice of a question
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// Test represents a quiz attached to a course or lesson
type Test struct {
	ID               string    `json:"id,omitempty"`
	CourseID         string    `json:"course_id"`
	LessonID         *string   `json:"lesson_id,omitempty"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	TimeLimitMinutes *int      `json:"time_limit_minutes,omitempty"`
	PassingScore     int       `json:"passing_score"`
	MaxAttempts      int       `json:"max_attempts"`
	IsPublished      bool      `json:"is_published"`
	CreatedAt        time.Time `json:"created_at,omitzero"`
	UpdatedAt        time.Time `json:"updated_at,omitzero"`
}

// Question is a member of a test's pool
type Question struct {
	ID            string       `json:"id,omitempty"`
	TestID        string       `json:"test_id"`
	Text          string       `json:"text"`
	QuestionType  QuestionType `json:"question_type"`
	Options       []Option     `json:"options"`
	CorrectAnswer *string      `json:"correct_answer,omitempty"`
	Points        int          `json:"points"`
	Order         int          `json:"order"`
	CreatedAt     time.Time    `json:"created_at,omitzero"`
	UpdatedAt     time.Time    `json:"updated_at,omitzero"`
}

// Validate checks the option invariants of the question type
func (q *Question) Validate() error {
	if q.Text == "" {
		return InvalidInput("question text is required")
	}
	if q.Points < 0 {
		return InvalidInput("question points must not be negative")
	}
	correct := 0
	for _, o := range q.Options {
		if o.IsCorrect {
			correct++
		}
	}
	switch q.QuestionType {
	case SingleChoice:
		if len(q.Options) < 2 || correct != 1 {
			return InvalidInput("single_choice requires at least two options and exactly one correct")
		}
	case MultipleChoice:
		if len(q.Options) < 2 || correct < 1 {
			return InvalidInput("multiple_choice requires at least two options and one correct")
		}
	case TrueFalse:
		if len(q.Options) != 2 || correct != 1 {
			return InvalidInput("true_false requires two options and exactly one correct")
		}
	case TextInput:
		if q.CorrectAnswer == nil || *q.CorrectAnswer == "" || len(q.Options) != 0 {
			return InvalidInput("text_input requires correct_answer and no options")
		}
	default:
		return InvalidInput("unknown question type")
	}
	return nil
}

// TestSession is one run of a test by a learner
type TestSession struct {
	ID                string                     `json:"id,omitempty"`
	StudentID         string                     `json:"student_id"`
	TestID            string                     `json:"test_id"`
	CourseID          string                     `json:"course_id"`
	LessonID          *string                    `json:"lesson_id,omitempty"`
	SelectedQuestions []string                   `json:"selected_questions"`
	ShuffledOptions   map[string][]int           `json:"shuffled_options"`
	Answers           map[string]json.RawMessage `json:"answers"`
	Score             int                        `json:"score"`
	TotalPoints       int                        `json:"total_points"`
	Percentage        float64                    `json:"percentage"`
	IsCompleted       bool                       `json:"is_completed"`
	IsPassed          bool                       `json:"is_passed"`
	TimeTakenMinutes  int                        `json:"time_taken_minutes"`
	StartedAt         time.Time                  `json:"started_at"`
	CompletedAt       *time.Time                 `json:"completed_at,omitempty"`
	CreatedAt         time.Time                  `json:"created_at,omitzero"`
	UpdatedAt         time.Time                  `json:"updated_at,omitzero"`
}

// TestAttempt is the history record of a completed session
type TestAttempt struct {
	ID            string                     `json:"id,omitempty"`
	SessionID     string                     `json:"session_id"`
	StudentID     string                     `json:"student_id"`
	TestID        string                     `json:"test_id"`
	CourseID      string                     `json:"course_id"`
	AttemptNumber int                        `json:"attempt_number"`
	Answers       map[string]json.RawMessage `json:"answers"`
	Score         int                        `json:"score"`
	TotalPoints   int                        `json:"total_points"`
	Percentage    float64                    `json:"percentage"`
	IsPassed      bool                       `json:"is_passed"`
	IsExpired     bool                       `json:"is_expired"`
	StartedAt     time.Time                  `json:"started_at"`
	CompletedAt   time.Time                  `json:"completed_at"`
	CreatedAt     time.Time                  `json:"created_at,omitzero"`
	UpdatedAt     time.Time                  `json:"updated_at,omitzero"`
}

// OptionView is an option as shown to the learner, in display order
type OptionView struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	Text  string `json:"text"`
}

// QuestionView is a question as shown to the learner
type QuestionView struct {
	ID           string       `json:"id"`
	Text         string       `json:"text"`
	QuestionType QuestionType `json:"question_type"`
	Points       int          `json:"points"`
	Options      []OptionView `json:"options"`
}

// SessionView is the client projection of a started session
type SessionView struct {
	SessionID        string         `json:"session_id"`
	TestID           string         `json:"test_id"`
	Title            string         `json:"title"`
	TimeLimitMinutes *int           `json:"time_limit_minutes,omitempty"`
	PassingScore     int            `json:"passing_score"`
	StartedAt        time.Time      `json:"started_at"`
	AttemptNumber    int            `json:"attempt_number"`
	Questions        []QuestionView `json:"questions"`
}

// SubmitResult is the outcome of grading a session
type SubmitResult struct {
	SessionID     string  `json:"session_id"`
	Score         int     `json:"score"`
	TotalPoints   int     `json:"total_points"`
	Percentage    float64 `json:"percentage"`
	IsPassed      bool    `json:"is_passed"`
	IsRetake      bool    `json:"is_retake"`
	PointsEarned  int     `json:"points_earned"`
	CorrectCount  int     `json:"correct_count"`
	AttemptNumber int     `json:"attempt_number"`
	Message       string  `json:"message"`
}

// CreateTestInput carries the fields of a new test; nil numbers take defaults
type CreateTestInput struct {
	CourseID         string
	LessonID         *string
	Title            string
	Description      string
	TimeLimitMinutes *int
	PassingScore     *int
	MaxAttempts      *int
	IsPublished      bool
}

// CreateQuestionInput carries a new pool question
type CreateQuestionInput struct {
	TestID        string
	Text          string
	QuestionType  QuestionType
	Options       []Option
	CorrectAnswer *string
	Points        *int
	Order         *int
}

// QuizService defines the quiz engine operations
type QuizService interface {
	// StartSession samples questions, shuffles options and persists a new session
	StartSession(ctx context.Context, p *Principal, testID string) (*SessionView, error)

	// Submit grades a session of the test, records the attempt and applies the scoring policy
	Submit(ctx context.Context, p *Principal, testID, sessionID string, answers map[string]json.RawMessage) (*SubmitResult, error)

	// ListAttempts returns the principal's attempt history for a test
	ListAttempts(ctx context.Context, p *Principal, testID string) ([]*TestAttempt, error)
}
