package service

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/gateway"
	"github.com/zizouhuweidi/ilm/internal/logger"
)

// LeaderboardCache stores the computed ranking between score changes
type LeaderboardCache interface {
	Get(ctx context.Context) ([]domain.LeaderboardEntry, bool, error)
	Set(ctx context.Context, entries []domain.LeaderboardEntry) error
	Invalidate(ctx context.Context) error
}

// LeaderboardService ranks active learners by score
type LeaderboardService struct {
	gw        gateway.Gateway
	cache     LeaderboardCache
	publisher domain.EventPublisher
	group     singleflight.Group
	log       *logger.Logger
}

// NewLeaderboardService creates a leaderboard. cache and publisher may be nil.
func NewLeaderboardService(gw gateway.Gateway, cache LeaderboardCache, publisher domain.EventPublisher, log *logger.Logger) *LeaderboardService {
	return &LeaderboardService{
		gw:        gw,
		cache:     cache,
		publisher: publisher,
		log:       log.With("service", "LeaderboardService"),
	}
}

var _ domain.LeaderboardService = (*LeaderboardService)(nil)

// Top returns the ranking, served from cache when present. Concurrent misses
// share a single store read.
func (s *LeaderboardService) Top(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	if s.cache != nil {
		entries, ok, err := s.cache.Get(ctx)
		if err != nil {
			s.log.Warn("leaderboard cache read failed", "error", err)
		} else if ok {
			return entries, nil
		}
	}

	v, err, _ := s.group.Do("top", func() (interface{}, error) {
		entries, err := s.compute(ctx)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, entries); err != nil {
				s.log.Warn("leaderboard cache write failed", "error", err)
			}
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.LeaderboardEntry), nil
}

func (s *LeaderboardService) compute(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	students, err := listAs[domain.Student](ctx, s.gw, domain.TableStudents, gateway.Query{
		Filters: gateway.Filters{"is_active": true},
		OrderBy: []gateway.Order{gateway.Desc("total_score"), gateway.Desc("last_activity")},
		Limit:   domain.LeaderboardLimit,
	})
	if err != nil {
		return nil, err
	}
	entries := make([]domain.LeaderboardEntry, len(students))
	for i, st := range students {
		entries[i] = domain.LeaderboardEntry{
			Rank:         i + 1,
			StudentID:    st.ID,
			Name:         st.Name,
			TotalScore:   st.TotalScore,
			CurrentLevel: st.CurrentLevel,
			LastActivity: st.LastActivity,
		}
	}
	return entries, nil
}

// Invalidate drops the cached ranking and tells subscribers to refetch.
// Cache and publish failures are logged; the store stays authoritative.
func (s *LeaderboardService) Invalidate(ctx context.Context, reason string) error {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.log.Warn("leaderboard cache invalidate failed", "error", err)
		}
	}
	if s.publisher == nil {
		return nil
	}
	err := s.publisher.Publish(ctx, domain.Event{
		Topic: domain.TopicLeaderboard,
		Type:  domain.EventLeaderboardUpdated,
		Data: map[string]interface{}{
			"reason": reason,
			"at":     time.Now().UTC(),
		},
	})
	if err != nil {
		s.log.Warn("leaderboard event publish failed", "error", err)
	}
	return nil
}
