// Package storetest holds behavioral tests every store.Store implementation must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storylingo/storylingo-server/internal/domain"
	"github.com/storylingo/storylingo-server/internal/store"
)

// Factory opens a fresh, empty store for one test. It should register cleanup.
type Factory func(t *testing.T) store.Store

var baseTime = time.Date(2025, 6, 1, 9, 30, 0, 123456789, time.UTC)

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("Ping", func(t *testing.T) { testPing(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("PutGetRoundTrip", func(t *testing.T) { testPutGetRoundTrip(t, newStore(t)) })
	t.Run("PutKeepsCreatedAt", func(t *testing.T) { testPutKeepsCreatedAt(t, newStore(t)) })
	t.Run("PutRejectsInvalid", func(t *testing.T) { testPutRejectsInvalid(t, newStore(t)) })
	t.Run("ListProgressForUser", func(t *testing.T) { testListForUser(t, newStore(t)) })
	t.Run("ListProgressForStory", func(t *testing.T) { testListForStory(t, newStore(t)) })
	t.Run("ListAllProgress", func(t *testing.T) { testListAll(t, newStore(t)) })
	t.Run("MutateCreates", func(t *testing.T) { testMutateCreates(t, newStore(t)) })
	t.Run("MutateWithoutCreate", func(t *testing.T) { testMutateWithoutCreate(t, newStore(t)) })
	t.Run("MutateErrorWritesNothing", func(t *testing.T) { testMutateErrorWritesNothing(t, newStore(t)) })
	t.Run("MutateConcurrent", func(t *testing.T) { testMutateConcurrent(t, newStore(t)) })
	t.Run("DeleteProgress", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("DeleteAllProgressForUser", func(t *testing.T) { testDeleteAll(t, newStore(t)) })
}

func ptr[T any](v T) *T { return &v }

func newRecord(userID, storyID int64) *domain.Progress {
	return domain.NewProgress(domain.ProgressKey{UserID: userID, StoryID: storyID}, baseTime)
}

func mustPut(t *testing.T, s store.Store, p *domain.Progress) {
	t.Helper()
	require.NoError(t, s.PutProgress(context.Background(), p))
}

func keys(records []*domain.Progress) []domain.ProgressKey {
	out := make([]domain.ProgressKey, len(records))
	for i, r := range records {
		out[i] = r.Key()
	}
	return out
}

func testPing(t *testing.T, s store.Store) {
	assert.NoError(t, s.Ping(context.Background()))
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.GetProgress(context.Background(), domain.ProgressKey{UserID: 1, StoryID: 1})
	assert.ErrorIs(t, err, store.ErrProgressNotFound)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testPutGetRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()

	p := newRecord(7, 3)
	p.CompletionPercentage = 45
	p.CurrentChapter = 4
	p.TimeSpent = 3600
	p.QuizScore = ptr(88)
	p.VocabularyLearned = []string{"zorro", "árbol", "Zorro", "el gato"}
	p.PronunciationAttempts = 3
	p.AvgPronunciationScore = ptr(72.125)
	p.LastAccessed = baseTime.Add(time.Minute)
	mustPut(t, s, p)

	got, err := s.GetProgress(ctx, p.Key())
	require.NoError(t, err)

	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, int64(3), got.StoryID)
	assert.Equal(t, 45, got.CompletionPercentage)
	assert.Equal(t, 4, got.CurrentChapter)
	assert.Equal(t, int64(3600), got.TimeSpent)
	require.NotNil(t, got.QuizScore)
	assert.Equal(t, 88, *got.QuizScore)
	assert.Equal(t, []string{"zorro", "árbol", "Zorro", "el gato"}, got.VocabularyLearned)
	assert.Equal(t, 3, got.PronunciationAttempts)
	require.NotNil(t, got.AvgPronunciationScore)
	assert.InDelta(t, 72.125, *got.AvgPronunciationScore, 1e-9)
	assert.True(t, p.LastAccessed.Equal(got.LastAccessed), "last accessed %v != %v", p.LastAccessed, got.LastAccessed)
	assert.Equal(t, domain.StatusInProgress, got.Status)
	assert.False(t, got.IsCompleted)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())

	// Optional fields stay absent.
	bare := newRecord(7, 4)
	mustPut(t, s, bare)
	got, err = s.GetProgress(ctx, bare.Key())
	require.NoError(t, err)
	assert.Nil(t, got.QuizScore)
	assert.Nil(t, got.AvgPronunciationScore)
	assert.Empty(t, got.VocabularyLearned)
}

func testPutKeepsCreatedAt(t *testing.T, s store.Store) {
	ctx := context.Background()

	p := newRecord(1, 1)
	mustPut(t, s, p)
	first, err := s.GetProgress(ctx, p.Key())
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	first.CompletionPercentage = 10
	mustPut(t, s, first)

	second, err := s.GetProgress(ctx, p.Key())
	require.NoError(t, err)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	assert.False(t, second.UpdatedAt.Before(second.CreatedAt))
	assert.Equal(t, 10, second.CompletionPercentage)
}

func testPutRejectsInvalid(t *testing.T, s store.Store) {
	p := newRecord(1, 1)
	p.Status = "DONE"
	err := s.PutProgress(context.Background(), p)
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	assert.ErrorIs(t, s.PutProgress(context.Background(), nil), store.ErrInvalidInput)
}

func testListForUser(t *testing.T, s store.Store) {
	ctx := context.Background()

	mustPut(t, s, newRecord(1, 30))
	mustPut(t, s, newRecord(1, 2))
	mustPut(t, s, newRecord(1, 100))
	mustPut(t, s, newRecord(12, 5))
	mustPut(t, s, newRecord(2, 2))

	records, err := s.ListProgressForUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []domain.ProgressKey{
		{UserID: 1, StoryID: 2},
		{UserID: 1, StoryID: 30},
		{UserID: 1, StoryID: 100},
	}, keys(records))

	none, err := s.ListProgressForUser(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testListForStory(t *testing.T, s store.Store) {
	ctx := context.Background()

	mustPut(t, s, newRecord(3, 8))
	mustPut(t, s, newRecord(1, 8))
	mustPut(t, s, newRecord(1, 80))
	mustPut(t, s, newRecord(2, 9))

	records, err := s.ListProgressForStory(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, []domain.ProgressKey{
		{UserID: 1, StoryID: 8},
		{UserID: 3, StoryID: 8},
	}, keys(records))

	require.NoError(t, s.DeleteProgress(ctx, domain.ProgressKey{UserID: 3, StoryID: 8}))
	records, err = s.ListProgressForStory(ctx, 8)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func testListAll(t *testing.T, s store.Store) {
	ctx := context.Background()

	mustPut(t, s, newRecord(2, 1))
	mustPut(t, s, newRecord(1, 2))
	mustPut(t, s, newRecord(1, 1))

	records, err := s.ListAllProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ProgressKey{
		{UserID: 1, StoryID: 1},
		{UserID: 1, StoryID: 2},
		{UserID: 2, StoryID: 1},
	}, keys(records))
}

func testMutateCreates(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := domain.ProgressKey{UserID: 5, StoryID: 6}

	created := 0
	got, err := s.MutateProgress(ctx, key,
		func() *domain.Progress {
			created++
			return domain.NewProgress(key, baseTime)
		},
		func(p *domain.Progress) error {
			return p.ApplyPatch(&domain.ProgressPatch{CompletionPercentage: ptr(40)}, baseTime)
		},
	)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, created, 1)
	assert.Equal(t, 40, got.CompletionPercentage)
	assert.False(t, got.CreatedAt.IsZero())

	stored, err := s.GetProgress(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 40, stored.CompletionPercentage)

	// Second mutation sees the committed record, not a new one.
	got, err = s.MutateProgress(ctx, key,
		func() *domain.Progress { t.Fatal("create must not be called for an existing record"); return nil },
		func(p *domain.Progress) error {
			p.TimeSpent += 10
			return nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, 40, got.CompletionPercentage)
	assert.Equal(t, int64(10), got.TimeSpent)
	assert.True(t, stored.CreatedAt.Equal(got.CreatedAt))
}

func testMutateWithoutCreate(t *testing.T, s store.Store) {
	called := false
	_, err := s.MutateProgress(context.Background(), domain.ProgressKey{UserID: 1, StoryID: 2}, nil,
		func(*domain.Progress) error {
			called = true
			return nil
		},
	)
	assert.ErrorIs(t, err, store.ErrProgressNotFound)
	assert.False(t, called)
}

func testMutateErrorWritesNothing(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := newRecord(1, 1)
	p.CompletionPercentage = 20
	mustPut(t, s, p)

	boom := errors.New("boom")
	_, err := s.MutateProgress(ctx, p.Key(), nil, func(p *domain.Progress) error {
		p.CompletionPercentage = 90
		p.TimeSpent = 999
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetProgress(ctx, p.Key())
	require.NoError(t, err)
	assert.Equal(t, 20, got.CompletionPercentage)
	assert.Equal(t, int64(0), got.TimeSpent)

	// A failed create leaves no record behind.
	missing := domain.ProgressKey{UserID: 1, StoryID: 2}
	_, err = s.MutateProgress(ctx, missing,
		func() *domain.Progress { return domain.NewProgress(missing, baseTime) },
		func(*domain.Progress) error { return boom },
	)
	assert.ErrorIs(t, err, boom)
	_, err = s.GetProgress(ctx, missing)
	assert.ErrorIs(t, err, store.ErrProgressNotFound)
}

func testMutateConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := domain.ProgressKey{UserID: 9, StoryID: 9}
	const workers = 8

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func(score float64) {
			defer wg.Done()
			_, err := s.MutateProgress(ctx, key,
				func() *domain.Progress { return domain.NewProgress(key, baseTime) },
				func(p *domain.Progress) error {
					if err := p.ApplyPatch(&domain.ProgressPatch{TimeSpentDelta: ptr(int64(5))}, baseTime); err != nil {
						return err
					}
					return p.RecordPronunciation(score, baseTime)
				},
			)
			errs <- err
		}(float64(i * 10))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetProgress(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(5*workers), got.TimeSpent)
	assert.Equal(t, workers, got.PronunciationAttempts)
	require.NotNil(t, got.AvgPronunciationScore)
	// mean of 0, 10, ..., 70
	assert.InDelta(t, 35.0, *got.AvgPronunciationScore, 1e-9)
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := newRecord(4, 4)
	mustPut(t, s, p)

	require.NoError(t, s.DeleteProgress(ctx, p.Key()))
	_, err := s.GetProgress(ctx, p.Key())
	assert.ErrorIs(t, err, store.ErrProgressNotFound)

	assert.ErrorIs(t, s.DeleteProgress(ctx, p.Key()), store.ErrProgressNotFound)
}

func testDeleteAll(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustPut(t, s, newRecord(1, 1))
	mustPut(t, s, newRecord(1, 2))
	mustPut(t, s, newRecord(1, 3))
	mustPut(t, s, newRecord(11, 1))

	n, err := s.DeleteAllProgressForUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	records, err := s.ListProgressForUser(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, records)

	story, err := s.ListProgressForStory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []domain.ProgressKey{{UserID: 11, StoryID: 1}}, keys(story))

	n, err = s.DeleteAllProgressForUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
