package store

import (
	"cmp"
	"slices"
	"time"

	"github.com/storylingo/storylingo-server/internal/domain"
)

// CheckRecord rejects records that must never reach storage.
func CheckRecord(p *domain.Progress) error {
	if p == nil {
		return ErrInvalidInput.WithMessage("progress record is nil")
	}
	if !p.Status.Valid() {
		return ErrInvalidInput.WithMessage("invalid progress status: " + string(p.Status))
	}
	return nil
}

// Stamp sets the audit timestamps for a write at now. createdAt is the
// stored creation time, or zero for an insert.
func Stamp(p *domain.Progress, createdAt, now time.Time) {
	now = now.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	p.CreatedAt = createdAt
	p.UpdatedAt = now
}

// SortByUserStory orders records by UserID, then StoryID.
func SortByUserStory(records []*domain.Progress) {
	slices.SortFunc(records, func(a, b *domain.Progress) int {
		if c := cmp.Compare(a.UserID, b.UserID); c != 0 {
			return c
		}
		return cmp.Compare(a.StoryID, b.StoryID)
	})
}
