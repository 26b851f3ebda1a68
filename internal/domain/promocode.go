package domain

import (
	"context"
	"time"
)

// Table names
const (
	TablePromocodes     = "promocodes"
	TablePromocodeUsage = "promocode_usages"
)

// PromocodeType selects which courses a promocode grants
type PromocodeType string

const (
	PromoAllCourses   PromocodeType = "all_courses"
	PromoSingleCourse PromocodeType = "single_course"
	PromoDiscount     PromocodeType = "discount"
)

// Valid reports whether t is a known promocode type
func (t PromocodeType) Valid() bool {
	switch t {
	case PromoAllCourses, PromoSingleCourse, PromoDiscount:
		return true
	}
	return false
}

// Promocode grants course access when redeemed
type Promocode struct {
	ID              string        `json:"id,omitempty"`
	Code            string        `json:"code"`
	PromocodeType   PromocodeType `json:"promocode_type"`
	Description     string        `json:"description"`
	PriceRub        *float64      `json:"price_rub,omitempty"`
	DiscountPercent *int          `json:"discount_percent,omitempty"`
	CourseIDs       []string      `json:"course_ids"`
	MaxUses         *int          `json:"max_uses,omitempty"`
	UsedCount       int           `json:"used_count"`
	IsActive        bool          `json:"is_active"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at,omitzero"`
	UpdatedAt       time.Time     `json:"updated_at,omitzero"`
}

// IsExpired reports whether the code is past its expiry at now; expires_at == now counts as expired
func (p *Promocode) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// IsExhausted reports whether the usage limit has been reached
func (p *Promocode) IsExhausted() bool {
	return p.MaxUses != nil && p.UsedCount >= *p.MaxUses
}

// PromocodeUsage proves a promocode was redeemed by an email
type PromocodeUsage struct {
	ID            string    `json:"id,omitempty"`
	PromocodeID   string    `json:"promocode_id"`
	PromocodeCode string    `json:"promocode_code"`
	StudentID     string    `json:"student_id"`
	StudentEmail  string    `json:"student_email"`
	CourseIDs     []string  `json:"course_ids"`
	UsedAt        time.Time `json:"used_at"`
	CreatedAt     time.Time `json:"created_at,omitzero"`
	UpdatedAt     time.Time `json:"updated_at,omitzero"`
}

// Verdict is the result of validating a promocode against an email
type Verdict string

const (
	VerdictOK          Verdict = "ok"
	VerdictInvalidCode Verdict = "invalid_code"
	VerdictInactive    Verdict = "inactive"
	VerdictExpired     Verdict = "expired"
	VerdictExhausted   Verdict = "exhausted"
	VerdictAlreadyUsed Verdict = "already_used"
)

// Err returns the business error matching a failing verdict, nil for ok
func (v Verdict) Err() error {
	switch v {
	case VerdictInvalidCode:
		return ErrInvalidCode
	case VerdictInactive:
		return ErrPromocodeInactive
	case VerdictExpired:
		return ErrPromocodeExpired
	case VerdictExhausted:
		return ErrPromocodeExhausted
	case VerdictAlreadyUsed:
		return ErrAlreadyUsed
	}
	return nil
}

// Validation is the response of validate
type Validation struct {
	Verdict   Verdict    `json:"verdict"`
	Valid     bool       `json:"valid"`
	Promocode *Promocode `json:"promocode,omitempty"`
}

// Redemption is the response of a successful redeem
type Redemption struct {
	PromocodeCode    string   `json:"promocode_code"`
	GrantedCourseIDs []string `json:"granted_course_ids"`
	UsedCount        int      `json:"used_count"`
}

// CreatePromocodeInput carries the fields of a new promocode
type CreatePromocodeInput struct {
	Code            string
	PromocodeType   PromocodeType
	Description     string
	PriceRub        *float64
	DiscountPercent *int
	CourseIDs       []string
	MaxUses         *int
	IsActive        bool
	ExpiresAt       *time.Time
}

// PromocodeService defines promocode validation and redemption
type PromocodeService interface {
	// Validate checks a code for an email without modifying state
	Validate(ctx context.Context, code, email string) (*Validation, error)

	// Redeem consumes a code for a learner and grants course access
	Redeem(ctx context.Context, p *Principal, code string) (*Redemption, error)

	// Create registers a new promocode
	Create(ctx context.Context, in CreatePromocodeInput) (*Promocode, error)

	// List returns all promocodes, newest first
	List(ctx context.Context) ([]*Promocode, error)

	// ListUsages returns the usage rows of a code
	ListUsages(ctx context.Context, code string) ([]*PromocodeUsage, error)
}
