package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and transport mapping
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindExpired
	KindExhausted
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExpired:
		return "expired"
	case KindExhausted:
		return "exhausted"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is a business error carrying a kind and a stable code
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same code so that wrapped copies compare equal to the sentinel
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Kind == t.Kind
}

// NewError creates a business error
func NewError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// InvalidInput creates an invalid_input error with a custom message
func InvalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Code: "invalid_input", Message: message}
}

// Unavailable wraps a transport failure
func Unavailable(err error) *Error {
	return &Error{Kind: KindUnavailable, Code: "unavailable", Message: "service temporarily unavailable", Err: err}
}

// KindOf returns the kind of the first *Error in the chain, KindInternal otherwise
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// Common errors
var (
	ErrUnauthorized       = NewError(KindUnauthorized, "unauthorized", "authentication required")
	ErrInvalidToken       = NewError(KindUnauthorized, "invalid_token", "invalid or expired token")
	ErrInvalidCredentials = NewError(KindUnauthorized, "invalid_credentials", "invalid email or password")
	ErrAccountDisabled    = NewError(KindForbidden, "account_disabled", "account is disabled")
	ErrAdminRequired      = NewError(KindForbidden, "admin_required", "administrator access required")
	ErrLearnerRequired    = NewError(KindForbidden, "learner_required", "learner access required")
	ErrNoAccess           = NewError(KindForbidden, "no_access", "no access to this course")

	ErrCourseNotFound  = NewError(KindNotFound, "course_not_found", "course not found")
	ErrLessonNotFound  = NewError(KindNotFound, "lesson_not_found", "lesson not found")
	ErrTestNotFound    = NewError(KindNotFound, "test_not_found", "test not found")
	ErrStudentNotFound = NewError(KindNotFound, "student_not_found", "student not found")
	ErrSlugTaken       = NewError(KindConflict, "slug_taken", "slug already in use")

	ErrSessionNotFound   = NewError(KindNotFound, "session_not_found", "test session not found")
	ErrNotSessionOwner   = NewError(KindForbidden, "not_session_owner", "session belongs to another learner")
	ErrAlreadyCompleted  = NewError(KindConflict, "already_completed", "test session already submitted")
	ErrSessionExpired    = NewError(KindExpired, "session_expired", "test session time limit exceeded")
	ErrAttemptsExhausted = NewError(KindExhausted, "attempts_exhausted", "maximum number of attempts reached")
	ErrInvalidAnswer     = NewError(KindInvalidInput, "invalid_answer", "malformed answer")
	ErrInvalidQuestion   = NewError(KindInvalidInput, "invalid_question", "invalid question")

	ErrInvalidCode        = NewError(KindNotFound, "invalid_code", "promocode not found")
	ErrPromocodeInactive  = NewError(KindConflict, "inactive", "promocode is not active")
	ErrPromocodeExpired   = NewError(KindExpired, "expired", "promocode has expired")
	ErrPromocodeExhausted = NewError(KindExhausted, "exhausted", "promocode usage limit reached")
	ErrAlreadyUsed        = NewError(KindConflict, "already_used", "promocode already used by this learner")
	ErrRedeemConflict     = NewError(KindConflict, "redeem_conflict", "promocode redemption raced, try again")
	ErrPromocodeExists    = NewError(KindConflict, "promocode_exists", "promocode already exists")
	ErrTooManyRedemptions = NewError(KindExhausted, "rate_limited", "too many redemption attempts")
)
