package domain

import (
	"cmp"
	"slices"
)

// UserStatistics summarizes one learner's progress across all stories.
type UserStatistics struct {
	UserID            int64   `json:"user_id"`
	TotalStories      int     `json:"total_stories"`
	CompletedStories  int     `json:"completed_stories"`
	InProgressStories int     `json:"in_progress_stories"`
	PausedStories     int     `json:"paused_stories"`
	AvgCompletion     float64 `json:"avg_completion"` // 0 when the user has no records
	TotalTimeSpent    int64   `json:"total_time_spent"`

	// Nil when no record carries a quiz score.
	AvgQuizScore *float64 `json:"avg_quiz_score,omitempty"`

	VocabularyWordsLearned int `json:"vocabulary_words_learned"` // distinct across stories

	PronunciationAttempts int      `json:"pronunciation_attempts"`
	AvgPronunciationScore *float64 `json:"avg_pronunciation_score,omitempty"`

	// Streaks are not computed; always nil.
	CurrentStreak *int `json:"current_streak"`
	LongestStreak *int `json:"longest_streak"`
}

// SummarizeUser aggregates the given records. Records belonging to other
// users are ignored.
func SummarizeUser(userID int64, records []*Progress) UserStatistics {
	stats := UserStatistics{UserID: userID}

	var (
		completionSum int64
		quizSum       int64
		quizCount     int
		pronSum       float64
		mine          []*Progress
	)

	for _, r := range records {
		if r.UserID != userID {
			continue
		}
		mine = append(mine, r)
		stats.TotalStories++
		completionSum += int64(r.CompletionPercentage)
		stats.TotalTimeSpent += r.TimeSpent

		switch r.Status {
		case StatusCompleted:
			stats.CompletedStories++
		case StatusInProgress, StatusNotStarted:
			stats.InProgressStories++
		case StatusPaused:
			stats.PausedStories++
		}

		if r.QuizScore != nil {
			quizSum += int64(*r.QuizScore)
			quizCount++
		}
		if r.PronunciationAttempts > 0 && r.AvgPronunciationScore != nil {
			// mean * count recovers the score sum for this record
			pronSum += *r.AvgPronunciationScore * float64(r.PronunciationAttempts)
			stats.PronunciationAttempts += r.PronunciationAttempts
		}
	}

	if stats.TotalStories > 0 {
		stats.AvgCompletion = float64(completionSum) / float64(stats.TotalStories)
	}
	if quizCount > 0 {
		avg := float64(quizSum) / float64(quizCount)
		stats.AvgQuizScore = &avg
	}
	if stats.PronunciationAttempts > 0 {
		avg := pronSum / float64(stats.PronunciationAttempts)
		stats.AvgPronunciationScore = &avg
	}
	stats.VocabularyWordsLearned = len(VocabularyUnion(mine))

	return stats
}

// LeaderboardEntry is one learner's position on the leaderboard.
type LeaderboardEntry struct {
	Rank          int     `json:"rank"`
	UserID        int64   `json:"user_id"`
	AvgCompletion float64 `json:"avg_completion"`
	TotalStories  int     `json:"total_stories"`

	completionSum int64
}

// BuildLeaderboard ranks every distinct user by average completion, highest
// first. Ties are broken by UserID ascending. Ranks are 1-based positions.
func BuildLeaderboard(records []*Progress) []LeaderboardEntry {
	byUser := make(map[int64]*LeaderboardEntry)
	for _, r := range records {
		e, ok := byUser[r.UserID]
		if !ok {
			e = &LeaderboardEntry{UserID: r.UserID}
			byUser[r.UserID] = e
		}
		e.TotalStories++
		e.completionSum += int64(r.CompletionPercentage)
	}

	entries := make([]LeaderboardEntry, 0, len(byUser))
	for _, e := range byUser {
		e.AvgCompletion = float64(e.completionSum) / float64(e.TotalStories)
		entries = append(entries, *e)
	}

	slices.SortFunc(entries, func(a, b LeaderboardEntry) int {
		// Compare sumA/nA with sumB/nB exactly by cross-multiplying.
		lhs := a.completionSum * int64(b.TotalStories)
		rhs := b.completionSum * int64(a.TotalStories)
		if c := cmp.Compare(rhs, lhs); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// StoryStatistics summarizes every learner's progress on one story.
type StoryStatistics struct {
	StoryID           int64 `json:"story_id"`
	Learners          int   `json:"learners"`
	CompletedLearners int   `json:"completed_learners"`

	// Mean completion percentage; nil when nobody has started the story.
	AvgCompletion *float64 `json:"avg_completion,omitempty"`
}

// CompletionRate returns the mean completion percentage, or 0 with no learners.
func (s StoryStatistics) CompletionRate() float64 {
	if s.AvgCompletion == nil {
		return 0
	}
	return *s.AvgCompletion
}

// SummarizeStory aggregates the records for storyID. Other stories are ignored.
func SummarizeStory(storyID int64, records []*Progress) StoryStatistics {
	stats := StoryStatistics{StoryID: storyID}
	var sum int64
	for _, r := range records {
		if r.StoryID != storyID {
			continue
		}
		stats.Learners++
		sum += int64(r.CompletionPercentage)
		if r.IsCompleted {
			stats.CompletedLearners++
		}
	}
	if stats.Learners > 0 {
		avg := float64(sum) / float64(stats.Learners)
		stats.AvgCompletion = &avg
	}
	return stats
}
