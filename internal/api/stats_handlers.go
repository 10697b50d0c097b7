package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/storylingo/storylingo-server/internal/domain"
)

func (s *Server) registerStatsRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getUserStatistics",
		Method:      http.MethodGet,
		Path:        userPath + "/statistics",
		Summary:     "Get user statistics",
		Description: "Aggregates the user's progress across all stories",
		Tags:        []string{"Statistics"},
	}, s.handleGetUserStatistics)

	huma.Register(s.api, huma.Operation{
		OperationID: "getLeaderboard",
		Method:      http.MethodGet,
		Path:        "/api/v1/progress/leaderboard",
		Summary:     "Get leaderboard",
		Description: "Ranks learners by average completion, ties broken by user ID",
		Tags:        []string{"Statistics"},
	}, s.handleGetLeaderboard)

	huma.Register(s.api, huma.Operation{
		OperationID: "getStoryStatistics",
		Method:      http.MethodGet,
		Path:        "/api/v1/stories/{storyID}/statistics",
		Summary:     "Get story statistics",
		Tags:        []string{"Statistics"},
	}, s.handleGetStoryStatistics)
}

// UserStatisticsOutput wraps user statistics for Huma.
type UserStatisticsOutput struct {
	Body domain.UserStatistics
}

// LeaderboardInput contains parameters for the leaderboard.
type LeaderboardInput struct {
	Limit int `query:"limit" minimum:"0" maximum:"1000" doc:"Max entries; 0 returns every learner"`
}

// LeaderboardResponse contains the ranked entries.
type LeaderboardResponse struct {
	Entries []domain.LeaderboardEntry `json:"entries" doc:"Ranked entries"`
}

// LeaderboardOutput wraps the leaderboard for Huma.
type LeaderboardOutput struct {
	Body LeaderboardResponse
}

// StoryStatisticsInput identifies a story.
type StoryStatisticsInput struct {
	StoryID int64 `path:"storyID" doc:"Story ID"`
}

// StoryStatisticsResponse adds the completion rate to the raw aggregate.
type StoryStatisticsResponse struct {
	domain.StoryStatistics
	CompletionRate float64 `json:"completion_rate" doc:"Mean completion percentage; 0 with no learners"`
}

// StoryStatisticsOutput wraps story statistics for Huma.
type StoryStatisticsOutput struct {
	Body StoryStatisticsResponse
}

func (s *Server) handleGetUserStatistics(ctx context.Context, input *UserInput) (*UserStatisticsOutput, error) {
	stats, err := s.services.Stats.UserStatistics(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	return &UserStatisticsOutput{Body: *stats}, nil
}

func (s *Server) handleGetLeaderboard(ctx context.Context, input *LeaderboardInput) (*LeaderboardOutput, error) {
	entries, err := s.services.Stats.Leaderboard(ctx, input.Limit)
	if err != nil {
		return nil, err
	}
	return &LeaderboardOutput{Body: LeaderboardResponse{Entries: entries}}, nil
}

func (s *Server) handleGetStoryStatistics(ctx context.Context, input *StoryStatisticsInput) (*StoryStatisticsOutput, error) {
	stats, err := s.services.Stats.StoryStatistics(ctx, input.StoryID)
	if err != nil {
		return nil, err
	}
	return &StoryStatisticsOutput{
		Body: StoryStatisticsResponse{
			StoryStatistics: *stats,
			CompletionRate:  stats.CompletionRate(),
		},
	}, nil
}
