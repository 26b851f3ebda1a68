package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/gateway"
)

func (f *fixture) promocode(t *testing.T, in domain.CreatePromocodeInput) *domain.Promocode {
	t.Helper()
	in.IsActive = true
	p, err := f.promocodes().Create(f.ctx, in)
	require.NoError(t, err)
	return p
}

func (f *fixture) patchPromocode(t *testing.T, id string, patch gateway.Record) {
	t.Helper()
	_, err := f.store.Update(f.ctx, domain.TablePromocodes, "id", id, patch)
	require.NoError(t, err)
}

func TestPromocodeValidateVerdicts(t *testing.T) {
	f := newFixture(t, true)
	course := f.course(t, "Course", domain.CoursePublished, false)
	svc := f.promocodes()
	learner := f.student(t, "used@example.com")

	f.promocode(t, domain.CreatePromocodeInput{Code: "OK", PromocodeType: domain.PromoAllCourses})

	inactive := f.promocode(t, domain.CreatePromocodeInput{Code: "OFF", PromocodeType: domain.PromoAllCourses})
	f.patchPromocode(t, inactive.ID, gateway.Record{"is_active": false})

	now := f.clock.Now()
	f.promocode(t, domain.CreatePromocodeInput{Code: "EXPIRED", PromocodeType: domain.PromoAllCourses, ExpiresAt: &now})

	offAndExpired := f.promocode(t, domain.CreatePromocodeInput{Code: "BOTH", PromocodeType: domain.PromoAllCourses, ExpiresAt: &now})
	f.patchPromocode(t, offAndExpired.ID, gateway.Record{"is_active": false})

	full := f.promocode(t, domain.CreatePromocodeInput{Code: "FULL", PromocodeType: domain.PromoAllCourses, MaxUses: intPtr(2)})
	f.patchPromocode(t, full.ID, gateway.Record{"used_count": 2})

	f.promocode(t, domain.CreatePromocodeInput{Code: "ONCE", PromocodeType: domain.PromoSingleCourse, CourseIDs: []string{course.ID}})
	_, err := svc.Redeem(f.ctx, learner, "ONCE")
	require.NoError(t, err)

	tests := []struct {
		code  string
		email string
		want  domain.Verdict
	}{
		{code: "OK", email: "new@example.com", want: domain.VerdictOK},
		{code: "OK", email: "", want: domain.VerdictOK},
		{code: "MISSING", email: "new@example.com", want: domain.VerdictInvalidCode},
		{code: "", email: "new@example.com", want: domain.VerdictInvalidCode},
		{code: "OFF", email: "new@example.com", want: domain.VerdictInactive},
		{code: "EXPIRED", email: "new@example.com", want: domain.VerdictExpired},
		{code: "BOTH", email: "new@example.com", want: domain.VerdictInactive},
		{code: "FULL", email: "new@example.com", want: domain.VerdictExhausted},
		{code: "ONCE", email: "USED@example.com ", want: domain.VerdictAlreadyUsed},
		{code: "ONCE", email: "other@example.com", want: domain.VerdictOK},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.code, tt.want), func(t *testing.T) {
			v, err := svc.Validate(f.ctx, tt.code, tt.email)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Verdict)
			assert.Equal(t, tt.want == domain.VerdictOK, v.Valid)
		})
	}
}

func TestPromocodeRedeemSingleCourse(t *testing.T) {
	f := newFixture(t, true)
	course := f.course(t, "Gated", domain.CoursePublished, false)
	f.course(t, "Other", domain.CoursePublished, false)
	learner := f.student(t, "learner@example.com")
	svc := f.promocodes()
	promo := f.promocode(t, domain.CreatePromocodeInput{Code: "ONE", PromocodeType: domain.PromoSingleCourse, CourseIDs: []string{course.ID}})

	ok, err := f.access.MayConsume(f.ctx, learner, course)
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := svc.Redeem(f.ctx, learner, " ONE ")
	require.NoError(t, err)
	assert.Equal(t, "ONE", res.PromocodeCode)
	assert.Equal(t, []string{course.ID}, res.GrantedCourseIDs)
	assert.Equal(t, 1, res.UsedCount)

	ok, err = f.access.MayConsume(f.ctx, learner, course)
	require.NoError(t, err)
	assert.True(t, ok)

	usages, err := svc.ListUsages(f.ctx, "ONE")
	require.NoError(t, err)
	require.Len(t, usages, 1)
	assert.Equal(t, promo.ID, usages[0].PromocodeID)
	assert.Equal(t, learner.ID, usages[0].StudentID)
	assert.Equal(t, "learner@example.com", usages[0].StudentEmail)
	assert.Equal(t, []string{course.ID}, usages[0].CourseIDs)

	_, err = svc.Redeem(f.ctx, learner, "ONE")
	assert.True(t, errors.Is(err, domain.ErrAlreadyUsed))

	list, err := svc.List(f.ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].UsedCount, "a rejected redemption leaves the counter alone")
}

func TestPromocodeRedeemAllCourses(t *testing.T) {
	f := newFixture(t, true)
	a := f.course(t, "A", domain.CoursePublished, false)
	b := f.course(t, "B", domain.CoursePublished, false)
	f.course(t, "Draft", domain.CourseDraft, false)
	learner := f.student(t, "all@example.com")
	f.promocode(t, domain.CreatePromocodeInput{Code: "ALL", PromocodeType: domain.PromoAllCourses})

	res, err := f.promocodes().Redeem(f.ctx, learner, "ALL")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, res.GrantedCourseIDs)

	accessible, err := f.access.ListAccessible(f.ctx, learner)
	require.NoError(t, err)
	require.Len(t, accessible, 2)
	for _, c := range accessible {
		assert.True(t, c.HasGrant)
	}
}

func TestPromocodeRedeemReactivatesGrant(t *testing.T) {
	f := newFixture(t, true)
	course := f.course(t, "Revoked", domain.CoursePublished, false)
	learner := f.student(t, "revoked@example.com")
	_, err := createAs(f.ctx, f.store, domain.TableCourseAccess, &domain.AccessGrant{
		StudentEmail: learner.Email,
		CourseID:     course.ID,
		GrantedAt:    f.clock.Now().Add(-time.Hour),
		IsActive:     false,
	}, nil)
	require.NoError(t, err)
	promo := f.promocode(t, domain.CreatePromocodeInput{Code: "BACK", PromocodeType: domain.PromoSingleCourse, CourseIDs: []string{course.ID}})

	_, err = f.promocodes().Redeem(f.ctx, learner, "BACK")
	require.NoError(t, err)

	grants := rows(f.store, domain.TableCourseAccess)
	require.Len(t, grants, 1)
	assert.Equal(t, true, grants[0]["is_active"])
	assert.Equal(t, promo.ID, grants[0]["promocode_id"])
}

func TestPromocodeExhaustedAfterMaxUses(t *testing.T) {
	f := newFixture(t, true)
	course := f.course(t, "Limited", domain.CoursePublished, false)
	f.promocode(t, domain.CreatePromocodeInput{Code: "LIMIT", PromocodeType: domain.PromoSingleCourse, CourseIDs: []string{course.ID}, MaxUses: intPtr(1)})
	svc := f.promocodes()

	_, err := svc.Redeem(f.ctx, f.student(t, "first@example.com"), "LIMIT")
	require.NoError(t, err)

	_, err = svc.Redeem(f.ctx, f.student(t, "second@example.com"), "LIMIT")
	assert.True(t, errors.Is(err, domain.ErrPromocodeExhausted))
	assert.Equal(t, domain.KindExhausted, domain.KindOf(err))
}

func TestPromocodeConcurrentRedemptionsRespectMaxUses(t *testing.T) {
	f := newFixture(t, true)
	course := f.course(t, "Popular", domain.CoursePublished, false)
	f.promocode(t, domain.CreatePromocodeInput{Code: "RUSH", PromocodeType: domain.PromoSingleCourse, CourseIDs: []string{course.ID}, MaxUses: intPtr(3)})
	svc := f.promocodes()

	const n = 10
	learners := make([]*domain.Principal, n)
	for i := range learners {
		learners[i] = f.student(t, fmt.Sprintf("rush%d@example.com", i))
	}

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		exhausted atomic.Int32
	)
	for _, p := range learners {
		wg.Add(1)
		go func(p *domain.Principal) {
			defer wg.Done()
			_, err := svc.Redeem(f.ctx, p, "RUSH")
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrPromocodeExhausted):
				exhausted.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, int32(3), succeeded.Load())
	assert.Equal(t, int32(n-3), exhausted.Load())
	assert.Len(t, rows(f.store, domain.TablePromocodeUsage), 3)
	assert.Len(t, rows(f.store, domain.TableCourseAccess), 3)

	v, err := svc.Validate(f.ctx, "RUSH", "")
	require.NoError(t, err)
	assert.Equal(t, 3, v.Promocode.UsedCount)
}

// racingGateway loses every compare-and-increment, as if another redemption
// always committed first
type racingGateway struct {
	gateway.Gateway
	tries *atomic.Int32
}

func (g racingGateway) Tx(ctx context.Context, fn func(tx gateway.Gateway) error) error {
	return g.Gateway.Tx(ctx, func(tx gateway.Gateway) error {
		return fn(racingGateway{Gateway: tx, tries: g.tries})
	})
}

func (g racingGateway) CompareAndIncrement(ctx context.Context, table, keyField string, keyValue any, counterField string, expected int) (bool, error) {
	g.tries.Add(1)
	return false, nil
}

func TestPromocodeRedeemGivesUpAfterRetries(t *testing.T) {
	f := newFixture(t, true)
	course := f.course(t, "Contended", domain.CoursePublished, false)
	f.promocode(t, domain.CreatePromocodeInput{Code: "HOT", PromocodeType: domain.PromoSingleCourse, CourseIDs: []string{course.ID}})
	learner := f.student(t, "hot@example.com")

	tries := &atomic.Int32{}
	svc := NewPromocodeService(racingGateway{Gateway: f.store, tries: tries}, f.log,
		WithPromocodeClock(f.clock.Now), WithMaxRedeemRetries(4))

	_, err := svc.Redeem(f.ctx, learner, "HOT")
	assert.True(t, errors.Is(err, domain.ErrRedeemConflict))
	assert.Equal(t, int32(4), tries.Load())
	assert.Empty(t, rows(f.store, domain.TablePromocodeUsage))
	assert.Empty(t, rows(f.store, domain.TableCourseAccess))
}

// grantConflictGateway fails the first course grant insert with a unique
// conflict, as if another code granted the same course to the same email
type grantConflictGateway struct {
	gateway.Gateway
	fired *atomic.Bool
}

func (g grantConflictGateway) Tx(ctx context.Context, fn func(tx gateway.Gateway) error) error {
	return g.Gateway.Tx(ctx, func(tx gateway.Gateway) error {
		return fn(grantConflictGateway{Gateway: tx, fired: g.fired})
	})
}

func (g grantConflictGateway) Create(ctx context.Context, table string, rec gateway.Record) (gateway.Record, error) {
	if table == domain.TableCourseAccess && g.fired.CompareAndSwap(false, true) {
		return nil, errors.Wrap(gateway.ErrConflict, "course_access")
	}
	return g.Gateway.Create(ctx, table, rec)
}

func TestPromocodeRedeemRetriesConcurrentGrant(t *testing.T) {
	f := newFixture(t, true)
	course := f.course(t, "Shared", domain.CoursePublished, false)
	f.promocode(t, domain.CreatePromocodeInput{Code: "SHARED", PromocodeType: domain.PromoSingleCourse, CourseIDs: []string{course.ID}})
	learner := f.student(t, "shared@example.com")

	fired := &atomic.Bool{}
	svc := NewPromocodeService(grantConflictGateway{Gateway: f.store, fired: fired}, f.log,
		WithPromocodeClock(f.clock.Now))

	res, err := svc.Redeem(f.ctx, learner, "SHARED")
	require.NoError(t, err, "a grant conflict is not an already-used code")
	assert.True(t, fired.Load())
	assert.Equal(t, 1, res.UsedCount)
	assert.Len(t, rows(f.store, domain.TablePromocodeUsage), 1)
	assert.Len(t, rows(f.store, domain.TableCourseAccess), 1)

	_, err = svc.Redeem(f.ctx, learner, "SHARED")
	assert.True(t, errors.Is(err, domain.ErrAlreadyUsed))
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, error) { return false, nil }

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestPromocodeRedeemGuards(t *testing.T) {
	f := newFixture(t, true)
	course := f.course(t, "Guarded", domain.CoursePublished, false)
	f.promocode(t, domain.CreatePromocodeInput{Code: "G", PromocodeType: domain.PromoSingleCourse, CourseIDs: []string{course.ID}})
	learner := f.student(t, "guarded@example.com")
	admin := &domain.Principal{Kind: domain.PrincipalAdministrator, ID: "adm", Role: domain.RoleAdmin}

	_, err := f.promocodes().Redeem(f.ctx, admin, "G")
	assert.True(t, errors.Is(err, domain.ErrLearnerRequired))

	_, err = f.promocodes().Redeem(f.ctx, learner, "NOPE")
	assert.True(t, errors.Is(err, domain.ErrInvalidCode))
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	_, err = f.promocodes(WithRateLimiter(denyLimiter{})).Redeem(f.ctx, learner, "G")
	assert.True(t, errors.Is(err, domain.ErrTooManyRedemptions))

	// an unavailable limiter does not block redemption
	_, err = f.promocodes(WithRateLimiter(brokenLimiter{})).Redeem(f.ctx, learner, "G")
	assert.NoError(t, err)
}

func TestPromocodeCreate(t *testing.T) {
	f := newFixture(t, true)
	course := f.course(t, "Target", domain.CoursePublished, false)
	svc := f.promocodes()

	tests := []struct {
		name string
		in   domain.CreatePromocodeInput
		want error
	}{
		{name: "empty code", in: domain.CreatePromocodeInput{PromocodeType: domain.PromoAllCourses}, want: domain.InvalidInput("")},
		{name: "unknown type", in: domain.CreatePromocodeInput{Code: "X", PromocodeType: "free"}, want: domain.InvalidInput("")},
		{name: "zero max uses", in: domain.CreatePromocodeInput{Code: "X", PromocodeType: domain.PromoAllCourses, MaxUses: intPtr(0)}, want: domain.InvalidInput("")},
		{name: "discount over 100", in: domain.CreatePromocodeInput{Code: "X", PromocodeType: domain.PromoDiscount, DiscountPercent: intPtr(120)}, want: domain.InvalidInput("")},
		{name: "single without course", in: domain.CreatePromocodeInput{Code: "X", PromocodeType: domain.PromoSingleCourse}, want: domain.InvalidInput("")},
		{name: "unknown course", in: domain.CreatePromocodeInput{Code: "X", PromocodeType: domain.PromoSingleCourse, CourseIDs: []string{"missing"}}, want: domain.ErrCourseNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(f.ctx, tt.in)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	promo, err := svc.Create(f.ctx, domain.CreatePromocodeInput{
		Code:          " WELCOME ",
		PromocodeType: domain.PromoSingleCourse,
		CourseIDs:     []string{course.ID, course.ID},
		IsActive:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, "WELCOME", promo.Code)
	assert.Equal(t, []string{course.ID}, promo.CourseIDs)
	assert.Equal(t, 0, promo.UsedCount)
	assert.NotEmpty(t, promo.ID)

	_, err = svc.Create(f.ctx, domain.CreatePromocodeInput{Code: "WELCOME", PromocodeType: domain.PromoAllCourses})
	assert.True(t, errors.Is(err, domain.ErrPromocodeExists))

	all, err := svc.Create(f.ctx, domain.CreatePromocodeInput{Code: "EVERYTHING", PromocodeType: domain.PromoAllCourses, CourseIDs: []string{course.ID}})
	require.NoError(t, err)
	assert.Empty(t, all.CourseIDs)

	_, err = svc.ListUsages(f.ctx, "UNKNOWN")
	assert.True(t, errors.Is(err, domain.ErrInvalidCode))
}
