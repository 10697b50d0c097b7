package service

import (
	"context"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storylingo/storylingo-server/internal/domain"
	domainerrors "github.com/storylingo/storylingo-server/internal/errors"
	"github.com/storylingo/storylingo-server/internal/store"
	"github.com/storylingo/storylingo-server/internal/store/sqlstore"
)

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func ptr[T any](v T) *T { return &v }

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	testStore, err := sqlstore.OpenSQLite(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { testStore.Close() })
	return testStore
}

func setupTestProgress(t *testing.T) (*ProgressService, store.Store, *testClock) {
	t.Helper()

	testStore := setupTestStore(t)
	clock := newTestClock()
	svc := NewProgressService(testStore, slog.New(slog.DiscardHandler)).WithClock(clock.Now)
	return svc, testStore, clock
}

func TestUpdateProgress_CreatesRecord(t *testing.T) {
	svc, _, clock := setupTestProgress(t)
	ctx := context.Background()

	p, err := svc.UpdateProgress(ctx, 7, 3, UpdateProgressRequest{
		CompletionPercentage: ptr(40),
		TimeSpentDelta:       ptr(int64(120)),
	})
	require.NoError(t, err)

	assert.Equal(t, 40, p.CompletionPercentage)
	assert.Equal(t, int64(120), p.TimeSpent)
	assert.Equal(t, domain.StatusInProgress, p.Status)
	assert.False(t, p.IsCompleted)
	assert.Equal(t, 1, p.CurrentChapter)
	assert.True(t, clock.Now().Equal(p.LastAccessed))

	clock.Advance(time.Minute)
	p, err = svc.UpdateProgress(ctx, 7, 3, UpdateProgressRequest{CompletionPercentage: ptr(100)})
	require.NoError(t, err)
	assert.True(t, p.IsCompleted)
	assert.Equal(t, domain.StatusCompleted, p.Status)
	assert.Equal(t, int64(120), p.TimeSpent)

	stored, err := svc.GetProgress(ctx, 7, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.True(t, clock.Now().Equal(stored.LastAccessed))
}

func TestUpdateProgress_ValidationLeavesRecordUnchanged(t *testing.T) {
	svc, _, _ := setupTestProgress(t)
	ctx := context.Background()

	_, err := svc.UpdateProgress(ctx, 1, 1, UpdateProgressRequest{CompletionPercentage: ptr(30)})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  UpdateProgressRequest
	}{
		{"completion above range", UpdateProgressRequest{CompletionPercentage: ptr(120)}},
		{"negative time delta", UpdateProgressRequest{TimeSpentDelta: ptr(int64(-1))}},
		{"quiz below range", UpdateProgressRequest{QuizScore: ptr(-5)}},
		{"empty vocabulary word", UpdateProgressRequest{VocabularyToAdd: []string{""}}},
		{"mixed valid and invalid", UpdateProgressRequest{
			CompletionPercentage: ptr(100),
			QuizScore:            ptr(101),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateProgress(ctx, 1, 1, tt.req)
			assert.ErrorIs(t, err, domainerrors.ErrValidation)

			p, err := svc.GetProgress(ctx, 1, 1)
			require.NoError(t, err)
			assert.Equal(t, 30, p.CompletionPercentage)
			assert.Equal(t, domain.StatusInProgress, p.Status)
		})
	}
}

func TestUpdateProgress_ValidationDoesNotCreate(t *testing.T) {
	svc, _, _ := setupTestProgress(t)
	ctx := context.Background()

	_, err := svc.UpdateProgress(ctx, 2, 2, UpdateProgressRequest{QuizScore: ptr(500)})
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = svc.GetProgress(ctx, 2, 2)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	assert.ErrorIs(t, err, store.ErrProgressNotFound, "store cause is kept")
}

func TestUpdateProgress_TimeSpentOverflow(t *testing.T) {
	svc, _, _ := setupTestProgress(t)
	ctx := context.Background()

	_, err := svc.UpdateProgress(ctx, 4, 4, UpdateProgressRequest{TimeSpentDelta: ptr(int64(math.MaxInt64))})
	require.NoError(t, err)

	_, err = svc.UpdateProgress(ctx, 4, 4, UpdateProgressRequest{TimeSpentDelta: ptr(int64(1))})
	require.ErrorIs(t, err, domainerrors.ErrValidation)

	var domainErr *domainerrors.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Contains(t, domainErr.Details, "time_spent_delta")

	p, err := svc.GetProgress(ctx, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), p.TimeSpent)
}

func TestUpdateProgress_CompletedCannotBeLowered(t *testing.T) {
	svc, _, _ := setupTestProgress(t)
	ctx := context.Background()

	_, err := svc.UpdateProgress(ctx, 1, 1, UpdateProgressRequest{CompletionPercentage: ptr(100)})
	require.NoError(t, err)

	_, err = svc.UpdateProgress(ctx, 1, 1, UpdateProgressRequest{CompletionPercentage: ptr(10)})
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestGetOrCreate_DoesNotPersist(t *testing.T) {
	svc, _, clock := setupTestProgress(t)
	ctx := context.Background()

	p, err := svc.GetOrCreate(ctx, 4, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, p.Status)
	assert.Equal(t, 1, p.CurrentChapter)
	assert.True(t, clock.Now().Equal(p.LastAccessed))

	_, err = svc.GetProgress(ctx, 4, 5)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestStartStory(t *testing.T) {
	svc, _, clock := setupTestProgress(t)
	ctx := context.Background()

	p, err := svc.StartStory(ctx, 1, 9)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, p.Status)
	assert.Equal(t, 0, p.CompletionPercentage)

	_, err = svc.PauseStory(ctx, 1, 9)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	p, err = svc.StartStory(ctx, 1, 9)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, p.Status)
	assert.True(t, clock.Now().Equal(p.LastAccessed))

	// Idempotent: restarting keeps existing progress.
	_, err = svc.UpdateProgress(ctx, 1, 9, UpdateProgressRequest{CompletionPercentage: ptr(60)})
	require.NoError(t, err)
	p, err = svc.StartStory(ctx, 1, 9)
	require.NoError(t, err)
	assert.Equal(t, 60, p.CompletionPercentage)
}

func TestCompleteChapter(t *testing.T) {
	svc, _, _ := setupTestProgress(t)
	ctx := context.Background()

	_, err := svc.CompleteChapter(ctx, 1, 1, 2, nil)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	_, err = svc.StartStory(ctx, 1, 1)
	require.NoError(t, err)

	p, err := svc.CompleteChapter(ctx, 1, 1, 3, &UpdateProgressRequest{
		CompletionPercentage: ptr(50),
		VocabularyToAdd:      []string{"libro"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, p.CurrentChapter)
	assert.Equal(t, 50, p.CompletionPercentage)
	assert.Equal(t, []string{"libro"}, p.VocabularyLearned)

	_, err = svc.CompleteChapter(ctx, 1, 1, 0, nil)
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestAddVocabulary(t *testing.T) {
	svc, _, _ := setupTestProgress(t)
	ctx := context.Background()

	_, err := svc.AddVocabulary(ctx, 1, 1, "hola")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	_, err = svc.StartStory(ctx, 1, 1)
	require.NoError(t, err)

	_, err = svc.AddVocabulary(ctx, 1, 1, "hola")
	require.NoError(t, err)
	p, err := svc.AddVocabulary(ctx, 1, 1, "hola")
	require.NoError(t, err)
	assert.Equal(t, []string{"hola"}, p.VocabularyLearned)

	_, err = svc.AddVocabulary(ctx, 1, 1, "")
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestRecordPronunciationScore(t *testing.T) {
	svc, _, _ := setupTestProgress(t)
	ctx := context.Background()

	_, err := svc.RecordPronunciationScore(ctx, 1, 1, 80)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	_, err = svc.StartStory(ctx, 1, 1)
	require.NoError(t, err)

	_, err = svc.RecordPronunciationScore(ctx, 1, 1, 80)
	require.NoError(t, err)
	p, err := svc.RecordPronunciationScore(ctx, 1, 1, 90)
	require.NoError(t, err)

	require.NotNil(t, p.AvgPronunciationScore)
	assert.InDelta(t, 85.0, *p.AvgPronunciationScore, 1e-9)
	assert.Equal(t, 2, p.PronunciationAttempts)

	_, err = svc.RecordPronunciationScore(ctx, 1, 1, 100.5)
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestPauseResume(t *testing.T) {
	svc, _, _ := setupTestProgress(t)
	ctx := context.Background()

	_, err := svc.PauseStory(ctx, 1, 1)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	_, err = svc.StartStory(ctx, 1, 1)
	require.NoError(t, err)

	p, err := svc.PauseStory(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, p.Status)

	_, err = svc.PauseStory(ctx, 1, 1)
	assert.ErrorIs(t, err, domainerrors.ErrConflict)

	p, err = svc.ResumeStory(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, p.Status)
}

func TestResetProgress(t *testing.T) {
	svc, _, _ := setupTestProgress(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.ResetProgress(ctx, 1, 1), domainerrors.ErrNotFound)

	_, err := svc.StartStory(ctx, 1, 1)
	require.NoError(t, err)
	require.NoError(t, svc.ResetProgress(ctx, 1, 1))

	_, err = svc.GetProgress(ctx, 1, 1)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestDeleteAllForUser(t *testing.T) {
	svc, _, _ := setupTestProgress(t)
	ctx := context.Background()

	n, err := svc.DeleteAllForUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for story := int64(1); story <= 3; story++ {
		_, err := svc.StartStory(ctx, 1, story)
		require.NoError(t, err)
	}
	_, err = svc.StartStory(ctx, 2, 1)
	require.NoError(t, err)

	n, err = svc.DeleteAllForUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	remaining, err := svc.ListProgress(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestListFilters(t *testing.T) {
	svc, _, clock := setupTestProgress(t)
	ctx := context.Background()

	_, err := svc.UpdateProgress(ctx, 1, 1, UpdateProgressRequest{CompletionPercentage: ptr(100)})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = svc.UpdateProgress(ctx, 1, 2, UpdateProgressRequest{CompletionPercentage: ptr(30)})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = svc.StartStory(ctx, 1, 3)
	require.NoError(t, err)
	_, err = svc.PauseStory(ctx, 1, 3)
	require.NoError(t, err)

	all, err := svc.ListProgress(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	completed, err := svc.ListCompleted(ctx, 1)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, int64(1), completed[0].StoryID)

	inProgress, err := svc.ListInProgress(ctx, 1)
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
	assert.Equal(t, int64(2), inProgress[0].StoryID)
}

func TestCurrentActiveStory(t *testing.T) {
	svc, _, clock := setupTestProgress(t)
	ctx := context.Background()

	_, err := svc.CurrentActiveStory(ctx, 1)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	_, err = svc.StartStory(ctx, 1, 5)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = svc.StartStory(ctx, 1, 6)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	// Most recent, but completed.
	_, err = svc.UpdateProgress(ctx, 1, 7, UpdateProgressRequest{CompletionPercentage: ptr(100)})
	require.NoError(t, err)

	p, err := svc.CurrentActiveStory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(6), p.StoryID)
}

func TestUserVocabulary(t *testing.T) {
	svc, _, _ := setupTestProgress(t)
	ctx := context.Background()

	_, err := svc.UpdateProgress(ctx, 1, 2, UpdateProgressRequest{VocabularyToAdd: []string{"sol", "mar"}})
	require.NoError(t, err)
	_, err = svc.UpdateProgress(ctx, 1, 1, UpdateProgressRequest{VocabularyToAdd: []string{"mar", "cielo"}})
	require.NoError(t, err)
	_, err = svc.UpdateProgress(ctx, 2, 1, UpdateProgressRequest{VocabularyToAdd: []string{"tierra"}})
	require.NoError(t, err)

	words, err := svc.UserVocabulary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"mar", "cielo", "sol"}, words)
}

func TestListStaleAndPauseStale(t *testing.T) {
	svc, _, clock := setupTestProgress(t)
	ctx := context.Background()

	_, err := svc.StartStory(ctx, 1, 1) // becomes stale
	require.NoError(t, err)
	_, err = svc.UpdateProgress(ctx, 1, 2, UpdateProgressRequest{CompletionPercentage: ptr(100)}) // completed
	require.NoError(t, err)
	_, err = svc.StartStory(ctx, 2, 1) // becomes stale
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)
	_, err = svc.StartStory(ctx, 1, 3) // fresh
	require.NoError(t, err)

	stale, err := svc.ListStale(ctx, 1, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, int64(1), stale[0].StoryID)

	n, err := svc.PauseStale(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p, err := svc.GetProgress(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, p.Status)
	assert.True(t, p.LastAccessed.Before(clock.Now().Add(-24*time.Hour)))

	p, err = svc.GetProgress(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, p.Status)

	n, err = svc.PauseStale(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestUpdateProgress_ConcurrentSameKey(t *testing.T) {
	svc, _, _ := setupTestProgress(t)
	ctx := context.Background()
	const workers = 10

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.UpdateProgress(ctx, 1, 1, UpdateProgressRequest{
				TimeSpentDelta:     ptr(int64(10)),
				VocabularyToAdd:    []string{"común", string(rune('a' + i))},
				PronunciationScore: ptr(float64(i * 10)),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	p, err := svc.GetProgress(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10*workers), p.TimeSpent)
	assert.Len(t, p.VocabularyLearned, workers+1)
	assert.Equal(t, workers, p.PronunciationAttempts)
	require.NotNil(t, p.AvgPronunciationScore)
	assert.InDelta(t, 45.0, *p.AvgPronunciationScore, 1e-9)
}
