package service

import (
	"context"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/gateway"
)

// AccessService decides course consumption from publication state and access grants
type AccessService struct {
	gw gateway.Gateway
	// gating makes every course require an active grant
	gating bool
}

// NewAccessService creates a new access resolver
func NewAccessService(gw gateway.Gateway, gating bool) *AccessService {
	return &AccessService{gw: gw, gating: gating}
}

var _ domain.AccessResolver = (*AccessService)(nil)

// MayConsume reports whether p may read the lessons and tests of course
func (s *AccessService) MayConsume(ctx context.Context, p *domain.Principal, course *domain.Course) (bool, error) {
	if course == nil || !course.IsPublished() {
		return false, nil
	}
	if p.IsAdministrator() {
		return true, nil
	}
	if !s.gating && !course.RequiresAccess {
		return true, nil
	}
	if !p.IsLearner() {
		return false, nil
	}
	n, err := s.gw.Count(ctx, domain.TableCourseAccess, gateway.Filters{
		"student_email": p.Email,
		"course_id":     course.ID,
		"is_active":     true,
	})
	if err != nil {
		return false, storeErr(err, nil)
	}
	return n > 0, nil
}

// ListAccessible returns published courses flagged with the learner's grants
func (s *AccessService) ListAccessible(ctx context.Context, p *domain.Principal) ([]*domain.AccessibleCourse, error) {
	courses, err := publishedCourses(ctx, s.gw)
	if err != nil {
		return nil, err
	}

	granted := make(map[string]bool)
	if p.IsLearner() {
		grants, err := listAs[domain.AccessGrant](ctx, s.gw, domain.TableCourseAccess, gateway.Query{
			Filters: gateway.Filters{"student_email": p.Email, "is_active": true},
		})
		if err != nil {
			return nil, err
		}
		for _, g := range grants {
			granted[g.CourseID] = true
		}
	}

	out := make([]*domain.AccessibleCourse, 0, len(courses))
	for _, c := range courses {
		out = append(out, &domain.AccessibleCourse{Course: *c, HasGrant: granted[c.ID]})
	}
	return out, nil
}

// publishedCourses lists published courses by level then display order
func publishedCourses(ctx context.Context, gw gateway.Gateway) ([]*domain.Course, error) {
	return listAs[domain.Course](ctx, gw, domain.TableCourses, gateway.Query{
		Filters: gateway.Filters{"status": string(domain.CoursePublished)},
		OrderBy: []gateway.Order{gateway.Asc("level"), gateway.Asc("order")},
	})
}
