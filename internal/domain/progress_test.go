package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storylingo/storylingo-server/internal/errors"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newTestProgress() *Progress {
	return NewProgress(ProgressKey{UserID: 7, StoryID: 3}, testNow)
}

func TestNewProgress_Defaults(t *testing.T) {
	p := newTestProgress()

	assert.Equal(t, int64(7), p.UserID)
	assert.Equal(t, int64(3), p.StoryID)
	assert.Equal(t, 0, p.CompletionPercentage)
	assert.Equal(t, 1, p.CurrentChapter)
	assert.Equal(t, int64(0), p.TimeSpent)
	assert.Nil(t, p.QuizScore)
	assert.Empty(t, p.VocabularyLearned)
	assert.Equal(t, 0, p.PronunciationAttempts)
	assert.Nil(t, p.AvgPronunciationScore)
	assert.Equal(t, StatusInProgress, p.Status)
	assert.False(t, p.IsCompleted)
	assert.Equal(t, testNow, p.LastAccessed)
	assert.Equal(t, "7:3", p.Key().String())
}

func TestApplyPatch_CompletionDrivesStatus(t *testing.T) {
	for pct := 0; pct <= 100; pct++ {
		p := newTestProgress()
		require.NoError(t, p.ApplyPatch(&ProgressPatch{CompletionPercentage: ptr(pct)}, testNow))

		assert.Equal(t, pct >= 100, p.IsCompleted, "pct=%d", pct)
		assert.Equal(t, pct >= 100, p.Status == StatusCompleted, "pct=%d", pct)
		assert.Equal(t, pct, p.CompletionPercentage)
	}
}

func TestApplyPatch_Scenario(t *testing.T) {
	p := newTestProgress()

	later := testNow.Add(time.Minute)
	require.NoError(t, p.ApplyPatch(&ProgressPatch{
		CompletionPercentage: ptr(40),
		TimeSpentDelta:       ptr(int64(120)),
	}, later))

	assert.Equal(t, 40, p.CompletionPercentage)
	assert.Equal(t, int64(120), p.TimeSpent)
	assert.Equal(t, StatusInProgress, p.Status)
	assert.False(t, p.IsCompleted)
	assert.Equal(t, later, p.LastAccessed)

	require.NoError(t, p.ApplyPatch(&ProgressPatch{CompletionPercentage: ptr(100)}, later))
	assert.True(t, p.IsCompleted)
	assert.Equal(t, StatusCompleted, p.Status)
}

func TestApplyPatch_TimeSpentAccumulates(t *testing.T) {
	p := newTestProgress()
	deltas := []int64{10, 0, 250, 3600, 1}

	var want int64
	for _, d := range deltas {
		want += d
		require.NoError(t, p.ApplyPatch(&ProgressPatch{TimeSpentDelta: ptr(d)}, testNow))
	}
	assert.Equal(t, want, p.TimeSpent)
}

func TestApplyPatch_TimeSpentOverflowRejected(t *testing.T) {
	p := newTestProgress()
	require.NoError(t, p.ApplyPatch(&ProgressPatch{TimeSpentDelta: ptr(int64(math.MaxInt64 - 10))}, testNow))

	// Reaching the maximum exactly is fine.
	require.NoError(t, p.ApplyPatch(&ProgressPatch{TimeSpentDelta: ptr(int64(10))}, testNow))
	require.Equal(t, int64(math.MaxInt64), p.TimeSpent)

	before := p.Clone()
	err := p.ApplyPatch(&ProgressPatch{TimeSpentDelta: ptr(int64(1)), CompletionPercentage: ptr(50)}, testNow.Add(time.Minute))
	require.ErrorIs(t, err, errors.ErrValidation)

	var domainErr *errors.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Contains(t, domainErr.Details, "time_spent_delta")
	assert.Equal(t, before, p)
}

func TestApplyPatch_EmptyPatchTouchesLastAccessed(t *testing.T) {
	p := newTestProgress()
	p.Status = StatusNotStarted
	later := testNow.Add(time.Hour)

	require.NoError(t, p.ApplyPatch(&ProgressPatch{}, later))
	assert.Equal(t, later, p.LastAccessed)
	assert.Equal(t, StatusInProgress, p.Status)

	require.NoError(t, p.ApplyPatch(nil, later.Add(time.Second)))
	assert.Equal(t, later.Add(time.Second), p.LastAccessed)
}

func TestApplyPatch_NotStartedPromotedToCompleted(t *testing.T) {
	p := newTestProgress()
	p.Status = StatusNotStarted

	require.NoError(t, p.ApplyPatch(&ProgressPatch{CompletionPercentage: ptr(100)}, testNow))
	assert.Equal(t, StatusCompleted, p.Status)
}

func TestApplyPatch_PausedStaysPaused(t *testing.T) {
	p := newTestProgress()
	require.NoError(t, p.Pause(testNow))

	require.NoError(t, p.ApplyPatch(&ProgressPatch{CompletionPercentage: ptr(50)}, testNow))
	assert.Equal(t, StatusPaused, p.Status)

	require.NoError(t, p.ApplyPatch(&ProgressPatch{CompletionPercentage: ptr(100)}, testNow))
	assert.Equal(t, StatusCompleted, p.Status)
}

func TestApplyPatch_QuizScoreLastWriteWins(t *testing.T) {
	p := newTestProgress()
	require.NoError(t, p.ApplyPatch(&ProgressPatch{QuizScore: ptr(70)}, testNow))
	require.NoError(t, p.ApplyPatch(&ProgressPatch{QuizScore: ptr(55)}, testNow))

	require.NotNil(t, p.QuizScore)
	assert.Equal(t, 55, *p.QuizScore)
}

func TestApplyPatch_ChapterOverwrite(t *testing.T) {
	p := newTestProgress()
	require.NoError(t, p.ApplyPatch(&ProgressPatch{CurrentChapter: ptr(9)}, testNow))
	require.NoError(t, p.ApplyPatch(&ProgressPatch{CurrentChapter: ptr(2)}, testNow))
	assert.Equal(t, 2, p.CurrentChapter)
}

func TestApplyPatch_InvalidLeavesRecordUnchanged(t *testing.T) {
	tests := []struct {
		name  string
		patch ProgressPatch
		field string
	}{
		{
			name:  "completion above range",
			patch: ProgressPatch{CompletionPercentage: ptr(101)},
			field: "completion_percentage",
		},
		{
			name:  "completion below range",
			patch: ProgressPatch{CompletionPercentage: ptr(-1)},
			field: "completion_percentage",
		},
		{
			name:  "quiz score above range",
			patch: ProgressPatch{QuizScore: ptr(150)},
			field: "quiz_score",
		},
		{
			name:  "negative time delta",
			patch: ProgressPatch{TimeSpentDelta: ptr(int64(-5))},
			field: "time_spent_delta",
		},
		{
			name:  "chapter zero",
			patch: ProgressPatch{CurrentChapter: ptr(0)},
			field: "current_chapter",
		},
		{
			name:  "pronunciation NaN",
			patch: ProgressPatch{PronunciationScore: ptr(math.NaN())},
			field: "pronunciation_score",
		},
		{
			name:  "empty vocabulary word",
			patch: ProgressPatch{VocabularyToAdd: []string{"hola", ""}},
			field: "vocabulary_to_add",
		},
		{
			// valid completion must not be applied when quiz score fails
			name: "partial validity",
			patch: ProgressPatch{
				CompletionPercentage: ptr(100),
				TimeSpentDelta:       ptr(int64(30)),
				QuizScore:            ptr(101),
			},
			field: "quiz_score",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProgress()
			require.NoError(t, p.ApplyPatch(&ProgressPatch{CompletionPercentage: ptr(20)}, testNow))
			before := p.Clone()

			err := p.ApplyPatch(&tt.patch, testNow.Add(time.Hour))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrValidation)

			var domainErr *errors.Error
			require.ErrorAs(t, err, &domainErr)
			details, ok := domainErr.Details.(map[string]string)
			require.True(t, ok)
			assert.Contains(t, details, tt.field)

			assert.Equal(t, before, p)
		})
	}
}

func TestApplyPatch_CompletedCannotBeLowered(t *testing.T) {
	p := newTestProgress()
	require.NoError(t, p.ApplyPatch(&ProgressPatch{CompletionPercentage: ptr(100)}, testNow))

	err := p.ApplyPatch(&ProgressPatch{CompletionPercentage: ptr(60)}, testNow)
	assert.ErrorIs(t, err, errors.ErrValidation)
	assert.Equal(t, 100, p.CompletionPercentage)
	assert.Equal(t, StatusCompleted, p.Status)

	// Other fields still apply to a completed record.
	require.NoError(t, p.ApplyPatch(&ProgressPatch{TimeSpentDelta: ptr(int64(5))}, testNow))
	assert.Equal(t, int64(5), p.TimeSpent)
	assert.Equal(t, StatusCompleted, p.Status)
}

func TestCompleteChapter(t *testing.T) {
	t.Run("sets chapter and applies patch", func(t *testing.T) {
		p := newTestProgress()
		require.NoError(t, p.CompleteChapter(4, &ProgressPatch{CompletionPercentage: ptr(80)}, testNow))
		assert.Equal(t, 4, p.CurrentChapter)
		assert.Equal(t, 80, p.CompletionPercentage)
	})

	t.Run("patch chapter wins", func(t *testing.T) {
		p := newTestProgress()
		require.NoError(t, p.CompleteChapter(4, &ProgressPatch{CurrentChapter: ptr(5)}, testNow))
		assert.Equal(t, 5, p.CurrentChapter)
	})

	t.Run("without patch", func(t *testing.T) {
		p := newTestProgress()
		require.NoError(t, p.CompleteChapter(2, nil, testNow))
		assert.Equal(t, 2, p.CurrentChapter)
	})

	t.Run("invalid patch leaves chapter", func(t *testing.T) {
		p := newTestProgress()
		err := p.CompleteChapter(6, &ProgressPatch{QuizScore: ptr(-3)}, testNow)
		assert.ErrorIs(t, err, errors.ErrValidation)
		assert.Equal(t, 1, p.CurrentChapter)
	})

	t.Run("overflowing time leaves chapter", func(t *testing.T) {
		p := newTestProgress()
		p.TimeSpent = math.MaxInt64
		err := p.CompleteChapter(3, &ProgressPatch{TimeSpentDelta: ptr(int64(1))}, testNow.Add(time.Hour))
		assert.ErrorIs(t, err, errors.ErrValidation)
		assert.Equal(t, 1, p.CurrentChapter)
		assert.Equal(t, testNow, p.LastAccessed)
	})

	t.Run("invalid chapter", func(t *testing.T) {
		p := newTestProgress()
		err := p.CompleteChapter(0, nil, testNow)
		assert.ErrorIs(t, err, errors.ErrValidation)
	})
}

func TestRecordPronunciation_MovingAverage(t *testing.T) {
	p := newTestProgress()
	require.NoError(t, p.RecordPronunciation(80, testNow))
	require.NoError(t, p.RecordPronunciation(90, testNow))

	require.NotNil(t, p.AvgPronunciationScore)
	assert.InDelta(t, 85.0, *p.AvgPronunciationScore, 1e-9)
	assert.Equal(t, 2, p.PronunciationAttempts)
}

func TestRecordPronunciation_MatchesArithmeticMean(t *testing.T) {
	scores := []float64{12.5, 99, 0, 100, 47.25, 63, 88.8, 71, 5, 33.3}

	p := newTestProgress()
	var sum float64
	for i, s := range scores {
		require.NoError(t, p.RecordPronunciation(s, testNow))
		sum += s

		require.NotNil(t, p.AvgPronunciationScore)
		assert.InDelta(t, sum/float64(i+1), *p.AvgPronunciationScore, 1e-9)
		assert.Equal(t, i+1, p.PronunciationAttempts)
	}
}

func TestRecordPronunciation_Invalid(t *testing.T) {
	for _, s := range []float64{-0.1, 100.01, math.NaN(), math.Inf(1), math.Inf(-1)} {
		p := newTestProgress()
		err := p.RecordPronunciation(s, testNow)
		assert.ErrorIs(t, err, errors.ErrValidation, "score=%v", s)
		assert.Equal(t, 0, p.PronunciationAttempts)
		assert.Nil(t, p.AvgPronunciationScore)
	}
}

func TestAddVocabulary_SetSemantics(t *testing.T) {
	p := newTestProgress()

	assert.True(t, p.AddVocabulary("gato"))
	assert.False(t, p.AddVocabulary("gato"))
	assert.True(t, p.AddVocabulary("perro"))
	assert.True(t, p.AddVocabulary("Gato"))
	assert.True(t, p.AddVocabulary(" gato"))

	assert.Equal(t, []string{"gato", "perro", "Gato", " gato"}, p.VocabularyLearned)
}

func TestApplyPatch_VocabularyDuplicatesInOnePatch(t *testing.T) {
	p := newTestProgress()
	require.NoError(t, p.ApplyPatch(&ProgressPatch{
		VocabularyToAdd: []string{"uno", "dos", "uno", "tres", "dos"},
	}, testNow))
	assert.Equal(t, []string{"uno", "dos", "tres"}, p.VocabularyLearned)
}

func TestLearnWord(t *testing.T) {
	p := newTestProgress()
	later := testNow.Add(time.Minute)

	require.NoError(t, p.LearnWord("casa", later))
	require.NoError(t, p.LearnWord("casa", later))
	assert.Equal(t, []string{"casa"}, p.VocabularyLearned)
	assert.Equal(t, later, p.LastAccessed)

	assert.ErrorIs(t, p.LearnWord("", later), errors.ErrValidation)
}

func TestPauseResume(t *testing.T) {
	p := newTestProgress()

	require.NoError(t, p.Pause(testNow))
	assert.Equal(t, StatusPaused, p.Status)

	assert.ErrorIs(t, p.Pause(testNow), errors.ErrConflict)

	require.NoError(t, p.Resume(testNow))
	assert.Equal(t, StatusInProgress, p.Status)

	assert.ErrorIs(t, p.Resume(testNow), errors.ErrConflict)

	require.NoError(t, p.ApplyPatch(&ProgressPatch{CompletionPercentage: ptr(100)}, testNow))
	assert.ErrorIs(t, p.Pause(testNow), errors.ErrConflict)
	assert.ErrorIs(t, p.Resume(testNow), errors.ErrConflict)
	assert.Equal(t, StatusCompleted, p.Status)
}

func TestIsStale(t *testing.T) {
	p := newTestProgress()
	cutoff := testNow.Add(time.Hour)

	assert.True(t, p.IsStale(cutoff))
	assert.False(t, p.IsStale(testNow))

	require.NoError(t, p.Pause(testNow))
	assert.False(t, p.IsStale(cutoff))
}

func TestClone_IsDeep(t *testing.T) {
	p := newTestProgress()
	require.NoError(t, p.ApplyPatch(&ProgressPatch{
		QuizScore:          ptr(50),
		VocabularyToAdd:    []string{"a"},
		PronunciationScore: ptr(70.0),
	}, testNow))

	c := p.Clone()
	c.AddVocabulary("b")
	*c.QuizScore = 1
	*c.AvgPronunciationScore = 2

	assert.Equal(t, []string{"a"}, p.VocabularyLearned)
	assert.Equal(t, 50, *p.QuizScore)
	assert.InDelta(t, 70.0, *p.AvgPronunciationScore, 1e-9)
}

func TestVocabularyUnion(t *testing.T) {
	records := []*Progress{
		{StoryID: 9, VocabularyLearned: []string{"sol", "luna"}},
		{StoryID: 2, VocabularyLearned: []string{"agua", "sol"}},
		{StoryID: 5, VocabularyLearned: nil},
	}
	assert.Equal(t, []string{"agua", "sol", "luna"}, VocabularyUnion(records))
	assert.Empty(t, VocabularyUnion(nil))
}
