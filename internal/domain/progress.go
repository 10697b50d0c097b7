package domain

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/storylingo/storylingo-server/internal/errors"
)

// Bounds for percentage-like values.
const (
	MinPercentage = 0
	MaxPercentage = 100

	// FirstChapter is where every record starts.
	FirstChapter = 1
)

// ProgressKey identifies one learner's record for one story.
type ProgressKey struct {
	UserID  int64 `json:"user_id"`
	StoryID int64 `json:"story_id"`
}

// String returns the composite key "userID:storyID".
func (k ProgressKey) String() string {
	return strconv.FormatInt(k.UserID, 10) + ":" + strconv.FormatInt(k.StoryID, 10)
}

// Progress is the state of one learner working through one story.
//
// IsCompleted and Status are derived from CompletionPercentage and only
// change through setCompletion, Pause and Resume.
type Progress struct {
	UserID  int64 `json:"user_id"`
	StoryID int64 `json:"story_id"`

	CompletionPercentage int      `json:"completion_percentage"` // 0-100
	CurrentChapter       int      `json:"current_chapter"`
	TimeSpent            int64    `json:"time_spent"` // seconds, cumulative
	QuizScore            *int     `json:"quiz_score,omitempty"`
	VocabularyLearned    []string `json:"vocabulary_learned"`

	PronunciationAttempts int      `json:"pronunciation_attempts"`
	AvgPronunciationScore *float64 `json:"avg_pronunciation_score,omitempty"`

	LastAccessed time.Time      `json:"last_accessed"`
	IsCompleted  bool           `json:"is_completed"`
	Status       ProgressStatus `json:"status"`

	// Set by the store.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProgress creates the record for a learner's first interaction with a story.
// Nothing is persisted until the caller stores it.
func NewProgress(key ProgressKey, now time.Time) *Progress {
	return &Progress{
		UserID:            key.UserID,
		StoryID:           key.StoryID,
		CurrentChapter:    FirstChapter,
		VocabularyLearned: []string{},
		LastAccessed:      now,
		Status:            StatusInProgress,
	}
}

// Key returns the record's composite identity.
func (p *Progress) Key() ProgressKey {
	return ProgressKey{UserID: p.UserID, StoryID: p.StoryID}
}

// Clone returns a deep copy.
func (p *Progress) Clone() *Progress {
	c := *p
	c.VocabularyLearned = slices.Clone(p.VocabularyLearned)
	if c.VocabularyLearned == nil {
		c.VocabularyLearned = []string{}
	}
	if p.QuizScore != nil {
		v := *p.QuizScore
		c.QuizScore = &v
	}
	if p.AvgPronunciationScore != nil {
		v := *p.AvgPronunciationScore
		c.AvgPronunciationScore = &v
	}
	return &c
}

// ProgressPatch carries the optional fields of a progress update.
// Nil fields are left untouched.
type ProgressPatch struct {
	CompletionPercentage *int
	CurrentChapter       *int
	TimeSpentDelta       *int64
	QuizScore            *int
	VocabularyToAdd      []string
	PronunciationScore   *float64
}

// Validate checks every present field against the record it will be applied to.
// It returns a validation error listing all offending fields, or nil.
func (pp *ProgressPatch) Validate(current *Progress) error {
	if pp == nil {
		return nil
	}
	details := map[string]string{}

	if v := pp.CompletionPercentage; v != nil {
		switch {
		case !inPercentRange(*v):
			details["completion_percentage"] = fmt.Sprintf("must be between %d and %d", MinPercentage, MaxPercentage)
		case current != nil && current.Status.IsTerminal() && *v < MaxPercentage:
			details["completion_percentage"] = "cannot be lowered on a completed story"
		}
	}
	if v := pp.CurrentChapter; v != nil && *v < FirstChapter {
		details["current_chapter"] = fmt.Sprintf("must be at least %d", FirstChapter)
	}
	if v := pp.TimeSpentDelta; v != nil {
		switch {
		case *v < 0:
			details["time_spent_delta"] = "must not be negative"
		case current != nil && current.TimeSpent > math.MaxInt64-*v:
			details["time_spent_delta"] = "would overflow total time spent"
		}
	}
	if v := pp.QuizScore; v != nil && !inPercentRange(*v) {
		details["quiz_score"] = fmt.Sprintf("must be between %d and %d", MinPercentage, MaxPercentage)
	}
	for _, w := range pp.VocabularyToAdd {
		if w == "" {
			details["vocabulary_to_add"] = "words must not be empty"
			break
		}
	}
	if v := pp.PronunciationScore; v != nil {
		if err := ValidatePronunciationScore(*v); err != nil {
			details["pronunciation_score"] = err.Error()
		}
	}

	if len(details) > 0 {
		return errors.ValidationWithDetails("invalid progress update", details)
	}
	return nil
}

// ApplyPatch validates the whole patch and then applies it.
// A validation failure leaves the record untouched.
func (p *Progress) ApplyPatch(patch *ProgressPatch, now time.Time) error {
	if err := patch.Validate(p); err != nil {
		return err
	}
	p.applyValidated(patch, now)
	return nil
}

func (p *Progress) applyValidated(patch *ProgressPatch, now time.Time) {
	if patch != nil {
		if patch.CompletionPercentage != nil {
			p.setCompletion(*patch.CompletionPercentage)
		}
		if patch.CurrentChapter != nil {
			p.CurrentChapter = *patch.CurrentChapter
		}
		if patch.TimeSpentDelta != nil {
			p.TimeSpent += *patch.TimeSpentDelta
		}
		if patch.QuizScore != nil {
			v := *patch.QuizScore
			p.QuizScore = &v
		}
		for _, w := range patch.VocabularyToAdd {
			p.AddVocabulary(w)
		}
		if patch.PronunciationScore != nil {
			p.addPronunciationScore(*patch.PronunciationScore)
		}
	}

	p.LastAccessed = now
	if p.Status == StatusNotStarted {
		p.Status = StatusInProgress
	}
}

// CompleteChapter moves the learner to chapter and applies the optional patch.
// The chapter and patch are validated together before anything changes.
func (p *Progress) CompleteChapter(chapter int, patch *ProgressPatch, now time.Time) error {
	if chapter < FirstChapter {
		return errors.ValidationWithDetails("invalid chapter", map[string]string{
			"chapter": fmt.Sprintf("must be at least %d", FirstChapter),
		})
	}
	next := p.Clone()
	next.CurrentChapter = chapter
	if err := next.ApplyPatch(patch, now); err != nil {
		return err
	}
	*p = *next
	return nil
}

// setCompletion is the only writer of CompletionPercentage, IsCompleted and the
// completion-driven Status change.
func (p *Progress) setCompletion(pct int) {
	p.CompletionPercentage = pct
	if pct >= MaxPercentage {
		p.IsCompleted = true
		p.Status = StatusCompleted
	}
}

// Pause parks an in-progress record.
func (p *Progress) Pause(now time.Time) error {
	return p.transition(StatusPaused, StatusInProgress, now)
}

// Resume returns a paused record to in-progress.
func (p *Progress) Resume(now time.Time) error {
	return p.transition(StatusInProgress, StatusPaused, now)
}

func (p *Progress) transition(next, from ProgressStatus, now time.Time) error {
	if p.Status != from || !p.Status.CanTransitionTo(next) {
		return errors.Conflictf("cannot move story progress from %s to %s", p.Status, next)
	}
	p.Status = next
	p.LastAccessed = now
	return nil
}

// IsStale reports whether an in-progress record has not been touched since cutoff.
func (p *Progress) IsStale(cutoff time.Time) bool {
	return p.Status == StatusInProgress && p.LastAccessed.Before(cutoff)
}

// RecordPronunciation folds a new score into the running average.
func (p *Progress) RecordPronunciation(score float64, now time.Time) error {
	if err := ValidatePronunciationScore(score); err != nil {
		return errors.ValidationWithDetails("invalid pronunciation score", map[string]string{
			"score": err.Error(),
		})
	}
	p.addPronunciationScore(score)
	p.LastAccessed = now
	if p.Status == StatusNotStarted {
		p.Status = StatusInProgress
	}
	return nil
}

// addPronunciationScore keeps (attempts, mean) as the only sufficient statistics.
// The average uses the pre-increment attempt count.
func (p *Progress) addPronunciationScore(score float64) {
	if p.PronunciationAttempts == 0 || p.AvgPronunciationScore == nil {
		avg := score
		p.AvgPronunciationScore = &avg
	} else {
		n := float64(p.PronunciationAttempts)
		avg := (*p.AvgPronunciationScore*n + score) / (n + 1)
		p.AvgPronunciationScore = &avg
	}
	p.PronunciationAttempts++
}

// ValidatePronunciationScore checks that score is a finite value in [0, 100].
func ValidatePronunciationScore(score float64) error {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return fmt.Errorf("must be a finite number")
	}
	if score < MinPercentage || score > MaxPercentage {
		return fmt.Errorf("must be between %d and %d", MinPercentage, MaxPercentage)
	}
	return nil
}

// AddVocabulary appends word unless it is already present. Comparison is exact.
// Returns true if the word was added.
func (p *Progress) AddVocabulary(word string) bool {
	if slices.Contains(p.VocabularyLearned, word) {
		return false
	}
	p.VocabularyLearned = append(p.VocabularyLearned, word)
	return true
}

// LearnWord is AddVocabulary as a tracked interaction: it validates the word and
// touches LastAccessed even when the word was already known.
func (p *Progress) LearnWord(word string, now time.Time) error {
	if word == "" {
		return errors.ValidationWithDetails("invalid vocabulary word", map[string]string{
			"word": "must not be empty",
		})
	}
	p.AddVocabulary(word)
	p.LastAccessed = now
	if p.Status == StatusNotStarted {
		p.Status = StatusInProgress
	}
	return nil
}

// VocabularyUnion returns the distinct words across records. Records are
// visited in StoryID order and words keep their insertion order.
func VocabularyUnion(records []*Progress) []string {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b *Progress) int {
		return cmp.Compare(a.StoryID, b.StoryID)
	})

	seen := make(map[string]struct{})
	words := []string{}
	for _, r := range sorted {
		for _, w := range r.VocabularyLearned {
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			words = append(words, w)
		}
	}
	return words
}

func inPercentRange(v int) bool {
	return v >= MinPercentage && v <= MaxPercentage
}
