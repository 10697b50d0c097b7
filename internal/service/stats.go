package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/storylingo/storylingo-server/internal/domain"
	"github.com/storylingo/storylingo-server/internal/store"
)

// StatsService computes aggregate statistics from store snapshots.
// It never writes.
type StatsService struct {
	store  store.Store
	logger *slog.Logger
}

// NewStatsService creates a new stats service.
func NewStatsService(store store.Store, logger *slog.Logger) *StatsService {
	return &StatsService{
		store:  store,
		logger: logger,
	}
}

// UserStatistics summarizes a user's progress. A user without records gets zeroed statistics.
func (s *StatsService) UserStatistics(ctx context.Context, userID int64) (*domain.UserStatistics, error) {
	records, err := s.store.ListProgressForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}

	stats := domain.SummarizeUser(userID, records)
	return &stats, nil
}

// Leaderboard ranks users by average completion. A limit <= 0 returns every user.
func (s *StatsService) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	records, err := s.store.ListAllProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}

	entries := domain.BuildLeaderboard(records)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	s.logger.Debug("leaderboard computed", "records", len(records), "entries", len(entries))
	return entries, nil
}

// StoryStatistics summarizes every learner's progress on a story.
func (s *StatsService) StoryStatistics(ctx context.Context, storyID int64) (*domain.StoryStatistics, error) {
	records, err := s.store.ListProgressForStory(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}

	stats := domain.SummarizeStory(storyID, records)
	return &stats, nil
}
