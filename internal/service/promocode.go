package service

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/gateway"
	"github.com/zizouhuweidi/ilm/internal/logger"
	"github.com/zizouhuweidi/ilm/internal/validation"
)

// DefaultMaxRedeemRetries bounds how often a redemption restarts after losing the counter race
const DefaultMaxRedeemRetries = 3

// errCounterRaced signals a lost compare-and-increment inside the redeem transaction
var errCounterRaced = errors.New("promocode counter raced")

// errGrantRaced signals a course grant for the same email inserted concurrently,
// possibly by a different code
var errGrantRaced = errors.New("course grant raced")

// RateLimiter admits or rejects an action for a key
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// PromocodeService validates and redeems promocodes
type PromocodeService struct {
	gw         gateway.Gateway
	limiter    RateLimiter
	maxRetries int
	now        Clock
	log        *logger.Logger
}

// PromocodeOption configures a PromocodeService
type PromocodeOption func(*PromocodeService)

// WithRateLimiter limits redemption attempts per learner
func WithRateLimiter(l RateLimiter) PromocodeOption {
	return func(s *PromocodeService) { s.limiter = l }
}

// WithMaxRedeemRetries overrides the counter race retry budget
func WithMaxRedeemRetries(n int) PromocodeOption {
	return func(s *PromocodeService) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithPromocodeClock overrides the time source
func WithPromocodeClock(now Clock) PromocodeOption {
	return func(s *PromocodeService) { s.now = now }
}

// NewPromocodeService creates a new promocode service
func NewPromocodeService(gw gateway.Gateway, log *logger.Logger, opts ...PromocodeOption) *PromocodeService {
	s := &PromocodeService{
		gw:         gw,
		maxRetries: DefaultMaxRedeemRetries,
		now:        utcNow,
		log:        log.With("service", "PromocodeService"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.PromocodeService = (*PromocodeService)(nil)

// Validate reports the verdict for code and email without modifying state
func (s *PromocodeService) Validate(ctx context.Context, code, email string) (*domain.Validation, error) {
	promo, verdict, err := s.evaluate(ctx, s.gw, code, validation.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	v := &domain.Validation{Verdict: verdict, Valid: verdict == domain.VerdictOK}
	if promo != nil {
		v.Promocode = promo
	}
	return v, nil
}

// evaluate runs the redeemability checks in order: existence, active, expiry,
// prior use by email, usage limit. A repeat by the same email reports
// already_used even once the code is full.
func (s *PromocodeService) evaluate(ctx context.Context, gw gateway.Gateway, code, email string) (*domain.Promocode, domain.Verdict, error) {
	if code == "" {
		return nil, domain.VerdictInvalidCode, nil
	}
	promo, err := findAs[domain.Promocode](ctx, gw, domain.TablePromocodes, gateway.Filters{"code": code}, nil)
	if errors.Is(err, gateway.ErrNotFound) {
		return nil, domain.VerdictInvalidCode, nil
	}
	if err != nil {
		return nil, "", err
	}
	switch {
	case !promo.IsActive:
		return promo, domain.VerdictInactive, nil
	case promo.IsExpired(s.now()):
		return promo, domain.VerdictExpired, nil
	}
	if email != "" {
		used, err := gw.Count(ctx, domain.TablePromocodeUsage, gateway.Filters{
			"promocode_code": promo.Code,
			"student_email":  email,
		})
		if err != nil {
			return nil, "", storeErr(err, nil)
		}
		if used > 0 {
			return promo, domain.VerdictAlreadyUsed, nil
		}
	}
	if promo.IsExhausted() {
		return promo, domain.VerdictExhausted, nil
	}
	return promo, domain.VerdictOK, nil
}

// Redeem consumes code for the learner. The counter bump, usage row and grants
// commit together; losing the counter or grant race restarts from the lookup.
func (s *PromocodeService) Redeem(ctx context.Context, p *domain.Principal, code string) (*domain.Redemption, error) {
	if !p.IsLearner() {
		return nil, domain.ErrLearnerRequired
	}
	code = strings.TrimSpace(code)
	email := validation.NormalizeEmail(p.Email)

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, "redeem:"+p.ID)
		if err != nil {
			s.log.Warn("redeem rate limiter unavailable", "error", err)
		} else if !ok {
			return nil, domain.ErrTooManyRedemptions
		}
	}

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		var result *domain.Redemption
		err := s.gw.Tx(ctx, func(tx gateway.Gateway) error {
			var err error
			result, err = s.redeemOnce(ctx, tx, p, code, email)
			return err
		})
		switch {
		case err == nil:
			s.log.Info("promocode redeemed",
				"code", result.PromocodeCode, "student_id", p.ID,
				"courses", len(result.GrantedCourseIDs), "used_count", result.UsedCount)
			return result, nil
		case errors.Is(err, errCounterRaced), errors.Is(err, errGrantRaced):
			s.log.Debug("promocode redemption raced, retrying", "code", code, "attempt", attempt, "error", err)
			continue
		case errors.Is(err, gateway.ErrConflict):
			return nil, domain.ErrRedeemConflict
		default:
			return nil, storeErr(err, nil)
		}
	}
	s.log.Warn("promocode redemption gave up after counter races", "code", code, "retries", s.maxRetries)
	return nil, domain.ErrRedeemConflict
}

func (s *PromocodeService) redeemOnce(ctx context.Context, tx gateway.Gateway, p *domain.Principal, code, email string) (*domain.Redemption, error) {
	promo, verdict, err := s.evaluate(ctx, tx, code, email)
	if err != nil {
		return nil, err
	}
	if err := verdict.Err(); err != nil {
		return nil, err
	}

	granted, err := s.grantedCourses(ctx, tx, promo)
	if err != nil {
		return nil, err
	}

	ok, err := tx.CompareAndIncrement(ctx, domain.TablePromocodes, "id", promo.ID, "used_count", promo.UsedCount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errCounterRaced
	}

	now := s.now()
	if _, err := createAs(ctx, tx, domain.TablePromocodeUsage, &domain.PromocodeUsage{
		PromocodeID:   promo.ID,
		PromocodeCode: promo.Code,
		StudentID:     p.ID,
		StudentEmail:  email,
		CourseIDs:     granted,
		UsedAt:        now,
	}, domain.ErrAlreadyUsed); err != nil {
		return nil, err
	}

	for _, courseID := range granted {
		if err := upsertGrant(ctx, tx, email, courseID, promo.ID, now); err != nil {
			return nil, err
		}
	}

	return &domain.Redemption{
		PromocodeCode:    promo.Code,
		GrantedCourseIDs: granted,
		UsedCount:        promo.UsedCount + 1,
	}, nil
}

// grantedCourses resolves all_courses to the currently published catalog
func (s *PromocodeService) grantedCourses(ctx context.Context, gw gateway.Gateway, promo *domain.Promocode) ([]string, error) {
	if promo.PromocodeType != domain.PromoAllCourses {
		out := make([]string, len(promo.CourseIDs))
		copy(out, promo.CourseIDs)
		return out, nil
	}
	courses, err := publishedCourses(ctx, gw)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(courses))
	for i, c := range courses {
		out[i] = c.ID
	}
	return out, nil
}

// upsertGrant creates the grant or reactivates an inactive one; active grants are left alone
func upsertGrant(ctx context.Context, gw gateway.Gateway, email, courseID, promoID string, now time.Time) error {
	grant, err := findAs[domain.AccessGrant](ctx, gw, domain.TableCourseAccess, gateway.Filters{
		"student_email": email,
		"course_id":     courseID,
	}, nil)
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		_, err = createAs(ctx, gw, domain.TableCourseAccess, &domain.AccessGrant{
			StudentEmail: email,
			CourseID:     courseID,
			PromocodeID:  &promoID,
			GrantedAt:    now,
			IsActive:     true,
		}, errGrantRaced)
		return err
	case err != nil:
		return err
	case grant.IsActive:
		return nil
	}
	_, err = gw.Update(ctx, domain.TableCourseAccess, "id", grant.ID, gateway.Record{
		"is_active":    true,
		"promocode_id": promoID,
		"granted_at":   stamp(now),
	})
	return err
}

// Create registers a promocode. all_courses codes carry no course list.
func (s *PromocodeService) Create(ctx context.Context, in domain.CreatePromocodeInput) (*domain.Promocode, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return nil, domain.InvalidInput("code is required")
	}
	if !in.PromocodeType.Valid() {
		return nil, domain.InvalidInput("unknown promocode type")
	}
	if in.MaxUses != nil && *in.MaxUses < 1 {
		return nil, domain.InvalidInput("max_uses must be at least 1")
	}
	if in.DiscountPercent != nil && (*in.DiscountPercent < 0 || *in.DiscountPercent > 100) {
		return nil, domain.InvalidInput("discount_percent must be between 0 and 100")
	}

	courseIDs := []string{}
	if in.PromocodeType != domain.PromoAllCourses {
		seen := make(map[string]bool)
		for _, id := range in.CourseIDs {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			if _, err := getAs[domain.Course](ctx, s.gw, domain.TableCourses, "id", id, domain.ErrCourseNotFound); err != nil {
				return nil, err
			}
			courseIDs = append(courseIDs, id)
		}
		if in.PromocodeType == domain.PromoSingleCourse && len(courseIDs) != 1 {
			return nil, domain.InvalidInput("single_course promocodes grant exactly one course")
		}
	}

	promo, err := createAs(ctx, s.gw, domain.TablePromocodes, &domain.Promocode{
		Code:            code,
		PromocodeType:   in.PromocodeType,
		Description:     in.Description,
		PriceRub:        in.PriceRub,
		DiscountPercent: in.DiscountPercent,
		CourseIDs:       courseIDs,
		MaxUses:         in.MaxUses,
		UsedCount:       0,
		IsActive:        in.IsActive,
		ExpiresAt:       in.ExpiresAt,
	}, domain.ErrPromocodeExists)
	if err != nil {
		return nil, err
	}
	s.log.Info("promocode created", "code", promo.Code, "type", promo.PromocodeType)
	return promo, nil
}

func (s *PromocodeService) List(ctx context.Context) ([]*domain.Promocode, error) {
	return listAs[domain.Promocode](ctx, s.gw, domain.TablePromocodes, gateway.Query{
		OrderBy: []gateway.Order{gateway.Desc("created_at")},
	})
}

func (s *PromocodeService) ListUsages(ctx context.Context, code string) ([]*domain.PromocodeUsage, error) {
	if _, err := findAs[domain.Promocode](ctx, s.gw, domain.TablePromocodes, gateway.Filters{"code": code}, domain.ErrInvalidCode); err != nil {
		return nil, err
	}
	return listAs[domain.PromocodeUsage](ctx, s.gw, domain.TablePromocodeUsage, gateway.Query{
		Filters: gateway.Filters{"promocode_code": code},
		OrderBy: []gateway.Order{gateway.Asc("used_at")},
	})
}
