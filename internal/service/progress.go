package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/storylingo/storylingo-server/internal/domain"
	domainerrors "github.com/storylingo/storylingo-server/internal/errors"
	"github.com/storylingo/storylingo-server/internal/store"
	"github.com/storylingo/storylingo-server/internal/validation"
)

var validate = validation.New()

// errNotStale aborts a stale-pause write for a record touched since the scan.
var errNotStale = errors.New("progress no longer stale")

// ProgressService applies learner interactions to story progress records.
// Every mutation runs as one read-modify-write on the store.
type ProgressService struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewProgressService creates a new progress service.
func NewProgressService(store store.Store, logger *slog.Logger) *ProgressService {
	return &ProgressService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *ProgressService) WithClock(now func() time.Time) *ProgressService {
	s.now = now
	return s
}

// UpdateProgressRequest carries the optional fields of a progress update.
type UpdateProgressRequest struct {
	CompletionPercentage *int     `json:"completion_percentage,omitempty" validate:"omitempty,gte=0,lte=100"`
	CurrentChapter       *int     `json:"current_chapter,omitempty" validate:"omitempty,gte=1"`
	TimeSpentDelta       *int64   `json:"time_spent_delta,omitempty" validate:"omitempty,gte=0"`
	QuizScore            *int     `json:"quiz_score,omitempty" validate:"omitempty,gte=0,lte=100"`
	VocabularyToAdd      []string `json:"vocabulary_to_add,omitempty" validate:"omitempty,max=500,dive,required,max=200"`
	PronunciationScore   *float64 `json:"pronunciation_score,omitempty" validate:"omitempty,finite,gte=0,lte=100"`
}

// Patch converts the request into a domain patch.
func (r *UpdateProgressRequest) Patch() *domain.ProgressPatch {
	if r == nil {
		return nil
	}
	return &domain.ProgressPatch{
		CompletionPercentage: r.CompletionPercentage,
		CurrentChapter:       r.CurrentChapter,
		TimeSpentDelta:       r.TimeSpentDelta,
		QuizScore:            r.QuizScore,
		VocabularyToAdd:      r.VocabularyToAdd,
		PronunciationScore:   r.PronunciationScore,
	}
}

// AddVocabularyRequest adds one word to a story's vocabulary.
type AddVocabularyRequest struct {
	Word string `json:"word" validate:"required,max=200"`
}

// PronunciationRequest records one pronunciation score.
type PronunciationRequest struct {
	Score float64 `json:"score" validate:"finite,gte=0,lte=100"`
}

func key(userID, storyID int64) domain.ProgressKey {
	return domain.ProgressKey{UserID: userID, StoryID: storyID}
}

// translateStoreError maps storage sentinels to domain errors and wraps the rest.
func translateStoreError(err error, op string, k domain.ProgressKey) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrProgressNotFound) {
		return domainerrors.NotFoundf("no progress for user %d on story %d", k.UserID, k.StoryID).WithCause(err)
	}
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

// GetProgress returns the stored record for a user and story.
func (s *ProgressService) GetProgress(ctx context.Context, userID, storyID int64) (*domain.Progress, error) {
	k := key(userID, storyID)
	p, err := s.store.GetProgress(ctx, k)
	if err != nil {
		return nil, translateStoreError(err, "get progress", k)
	}
	return p, nil
}

// GetOrCreate returns the stored record, or a new unsaved one.
func (s *ProgressService) GetOrCreate(ctx context.Context, userID, storyID int64) (*domain.Progress, error) {
	k := key(userID, storyID)
	p, err := s.store.GetProgress(ctx, k)
	if errors.Is(err, store.ErrProgressNotFound) {
		return domain.NewProgress(k, s.now()), nil
	}
	if err != nil {
		return nil, translateStoreError(err, "get progress", k)
	}
	return p, nil
}

// StartStory records that the learner opened a story, creating the record
// if needed. A paused story resumes.
func (s *ProgressService) StartStory(ctx context.Context, userID, storyID int64) (*domain.Progress, error) {
	k := key(userID, storyID)
	p, err := s.store.MutateProgress(ctx, k, s.creator(k), func(p *domain.Progress) error {
		now := s.now()
		if p.Status == domain.StatusPaused {
			return p.Resume(now)
		}
		return p.ApplyPatch(nil, now)
	})
	if err != nil {
		return nil, translateStoreError(err, "start story", k)
	}

	s.logger.Debug("story started", "user_id", userID, "story_id", storyID, "status", p.Status)
	return p, nil
}

// UpdateProgress applies a partial update, creating the record on first use.
func (s *ProgressService) UpdateProgress(ctx context.Context, userID, storyID int64, req UpdateProgressRequest) (*domain.Progress, error) {
	if err := validate.Validate(req); err != nil {
		return nil, err
	}

	k := key(userID, storyID)
	patch := req.Patch()
	p, err := s.store.MutateProgress(ctx, k, s.creator(k), func(p *domain.Progress) error {
		return p.ApplyPatch(patch, s.now())
	})
	if err != nil {
		return nil, translateStoreError(err, "update progress", k)
	}

	s.logger.Debug("progress updated",
		"user_id", userID,
		"story_id", storyID,
		"completion", p.CompletionPercentage,
		"status", p.Status,
	)
	return p, nil
}

// CompleteChapter moves an existing record to chapter and applies the optional update.
func (s *ProgressService) CompleteChapter(ctx context.Context, userID, storyID int64, chapter int, req *UpdateProgressRequest) (*domain.Progress, error) {
	if req != nil {
		if err := validate.Validate(req); err != nil {
			return nil, err
		}
	}

	k := key(userID, storyID)
	patch := req.Patch()
	p, err := s.store.MutateProgress(ctx, k, nil, func(p *domain.Progress) error {
		return p.CompleteChapter(chapter, patch, s.now())
	})
	if err != nil {
		return nil, translateStoreError(err, "complete chapter", k)
	}

	s.logger.Debug("chapter completed", "user_id", userID, "story_id", storyID, "chapter", chapter)
	return p, nil
}

// AddVocabulary adds a word to an existing record. Known words are a no-op.
func (s *ProgressService) AddVocabulary(ctx context.Context, userID, storyID int64, word string) (*domain.Progress, error) {
	if err := validate.Validate(AddVocabularyRequest{Word: word}); err != nil {
		return nil, err
	}

	k := key(userID, storyID)
	p, err := s.store.MutateProgress(ctx, k, nil, func(p *domain.Progress) error {
		return p.LearnWord(word, s.now())
	})
	if err != nil {
		return nil, translateStoreError(err, "add vocabulary", k)
	}
	return p, nil
}

// RecordPronunciationScore folds a score into an existing record's average.
func (s *ProgressService) RecordPronunciationScore(ctx context.Context, userID, storyID int64, score float64) (*domain.Progress, error) {
	if err := validate.Validate(PronunciationRequest{Score: score}); err != nil {
		return nil, err
	}

	k := key(userID, storyID)
	p, err := s.store.MutateProgress(ctx, k, nil, func(p *domain.Progress) error {
		return p.RecordPronunciation(score, s.now())
	})
	if err != nil {
		return nil, translateStoreError(err, "record pronunciation", k)
	}

	s.logger.Debug("pronunciation recorded",
		"user_id", userID,
		"story_id", storyID,
		"attempts", p.PronunciationAttempts,
	)
	return p, nil
}

// PauseStory parks an in-progress story.
func (s *ProgressService) PauseStory(ctx context.Context, userID, storyID int64) (*domain.Progress, error) {
	k := key(userID, storyID)
	p, err := s.store.MutateProgress(ctx, k, nil, func(p *domain.Progress) error {
		return p.Pause(s.now())
	})
	if err != nil {
		return nil, translateStoreError(err, "pause story", k)
	}
	return p, nil
}

// ResumeStory returns a paused story to in-progress.
func (s *ProgressService) ResumeStory(ctx context.Context, userID, storyID int64) (*domain.Progress, error) {
	k := key(userID, storyID)
	p, err := s.store.MutateProgress(ctx, k, nil, func(p *domain.Progress) error {
		return p.Resume(s.now())
	})
	if err != nil {
		return nil, translateStoreError(err, "resume story", k)
	}
	return p, nil
}

// ResetProgress deletes one record.
func (s *ProgressService) ResetProgress(ctx context.Context, userID, storyID int64) error {
	k := key(userID, storyID)
	if err := s.store.DeleteProgress(ctx, k); err != nil {
		return translateStoreError(err, "reset progress", k)
	}

	s.logger.Info("story progress reset", "user_id", userID, "story_id", storyID)
	return nil
}

// DeleteAllForUser erases every record for the user. It succeeds when there is nothing to delete.
func (s *ProgressService) DeleteAllForUser(ctx context.Context, userID int64) (int, error) {
	n, err := s.store.DeleteAllProgressForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("delete progress for user %d: %w", userID, err)
	}

	s.logger.Info("user progress erased", "user_id", userID, "count", n)
	return n, nil
}

// ListProgress returns all of a user's records ordered by story.
func (s *ProgressService) ListProgress(ctx context.Context, userID int64) ([]*domain.Progress, error) {
	records, err := s.store.ListProgressForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return records, nil
}

// ListCompleted returns the user's completed stories.
func (s *ProgressService) ListCompleted(ctx context.Context, userID int64) ([]*domain.Progress, error) {
	return s.listWhere(ctx, userID, func(p *domain.Progress) bool { return p.IsCompleted })
}

// ListInProgress returns the user's stories that are in progress.
func (s *ProgressService) ListInProgress(ctx context.Context, userID int64) ([]*domain.Progress, error) {
	return s.listWhere(ctx, userID, func(p *domain.Progress) bool {
		return p.Status == domain.StatusInProgress
	})
}

// ListStale returns the user's incomplete stories not accessed since olderThan ago.
func (s *ProgressService) ListStale(ctx context.Context, userID int64, olderThan time.Duration) ([]*domain.Progress, error) {
	cutoff := s.now().Add(-olderThan)
	return s.listWhere(ctx, userID, func(p *domain.Progress) bool {
		return !p.IsCompleted && p.LastAccessed.Before(cutoff)
	})
}

func (s *ProgressService) listWhere(ctx context.Context, userID int64, keep func(*domain.Progress) bool) ([]*domain.Progress, error) {
	records, err := s.ListProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Progress, 0, len(records))
	for _, p := range records {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// CurrentActiveStory returns the most recently accessed incomplete story.
func (s *ProgressService) CurrentActiveStory(ctx context.Context, userID int64) (*domain.Progress, error) {
	active, err := s.listWhere(ctx, userID, func(p *domain.Progress) bool { return !p.IsCompleted })
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, domainerrors.NotFoundf("no active story for user %d", userID)
	}

	slices.SortStableFunc(active, func(a, b *domain.Progress) int {
		if c := b.LastAccessed.Compare(a.LastAccessed); c != 0 {
			return c
		}
		return cmp.Compare(a.StoryID, b.StoryID)
	})
	return active[0], nil
}

// UserVocabulary returns the distinct words the user has learned across stories.
func (s *ProgressService) UserVocabulary(ctx context.Context, userID int64) ([]string, error) {
	records, err := s.ListProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	return domain.VocabularyUnion(records), nil
}

// PauseStale pauses every in-progress record not accessed since olderThan ago
// and returns how many were paused. Each record is re-checked inside its own
// read-modify-write, so a concurrent learner update wins.
func (s *ProgressService) PauseStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)

	records, err := s.store.ListAllProgress(ctx)
	if err != nil {
		return 0, fmt.Errorf("list progress: %w", err)
	}

	paused := 0
	for _, r := range records {
		if !r.IsStale(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return paused, err
		}

		_, err := s.store.MutateProgress(ctx, r.Key(), nil, func(p *domain.Progress) error {
			if !p.IsStale(cutoff) {
				return errNotStale
			}
			// Keep LastAccessed: pausing is not a learner interaction.
			return p.Pause(p.LastAccessed)
		})
		switch {
		case err == nil:
			paused++
		case errors.Is(err, errNotStale), errors.Is(err, store.ErrProgressNotFound):
			// Touched or deleted since the scan.
		default:
			return paused, fmt.Errorf("pause stale progress %s: %w", r.Key(), err)
		}
	}

	if paused > 0 {
		s.logger.Info("paused stale story progress", "count", paused, "older_than", olderThan)
	}
	return paused, nil
}

func (s *ProgressService) creator(k domain.ProgressKey) store.CreateFunc {
	return func() *domain.Progress {
		return domain.NewProgress(k, s.now())
	}
}
