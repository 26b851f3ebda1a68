package domain

import (
	"context"
	"time"
)

// LeaderboardLimit caps the number of learners on the leaderboard
const LeaderboardLimit = 100

// Event topics and types
const (
	TopicLeaderboard        = "leaderboard"
	EventLeaderboardUpdated = "leaderboard_updated"
	EventPromocodeRedeemed  = "promocode_redeemed"
)

// LeaderboardEntry is one ranked learner
type LeaderboardEntry struct {
	Rank         int        `json:"rank"`
	StudentID    string     `json:"student_id"`
	Name         string     `json:"name"`
	TotalScore   int        `json:"total_score"`
	CurrentLevel string     `json:"current_level"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// Event is a live notification fanned out to subscribers of a topic
type Event struct {
	Topic string      `json:"topic"`
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
}

// EventPublisher delivers events to live subscribers
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// LeaderboardService defines leaderboard reads
type LeaderboardService interface {
	// Top returns learners by total_score desc, then last_activity desc
	Top(ctx context.Context) ([]LeaderboardEntry, error)

	// Invalidate drops any cached ranking and notifies subscribers
	Invalidate(ctx context.Context, reason string) error
}
