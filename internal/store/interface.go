// Package store defines the persistence interface for story progress records.
//
// Implementations live in subpackages: badgerstore (embedded key-value) and
// sqlstore (SQLite or PostgreSQL).
package store

import (
	"context"

	"github.com/storylingo/storylingo-server/internal/domain"
)

// Store defines the interface for all persistence operations.
type Store interface {
	// Lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Reads. Each returned record is a consistent snapshot.
	GetProgress(ctx context.Context, key domain.ProgressKey) (*domain.Progress, error)
	ListProgressForUser(ctx context.Context, userID int64) ([]*domain.Progress, error)
	ListProgressForStory(ctx context.Context, storyID int64) ([]*domain.Progress, error)
	ListAllProgress(ctx context.Context) ([]*domain.Progress, error)

	// PutProgress inserts or replaces a record and sets its audit timestamps.
	PutProgress(ctx context.Context, p *domain.Progress) error

	// MutateProgress performs an atomic read-modify-write of one record.
	//
	// The latest committed record is loaded, or create is called when none
	// exists. A nil create makes a missing record return ErrProgressNotFound.
	// If mutate returns an error nothing is written and the error is returned
	// unchanged. Otherwise the record is stamped and written in the same
	// transaction and the stored value is returned.
	MutateProgress(ctx context.Context, key domain.ProgressKey, create CreateFunc, mutate MutateFunc) (*domain.Progress, error)

	// DeleteProgress removes one record, returning ErrProgressNotFound if absent.
	DeleteProgress(ctx context.Context, key domain.ProgressKey) error

	// DeleteAllProgressForUser removes every record for the user and
	// returns how many were removed.
	DeleteAllProgressForUser(ctx context.Context, userID int64) (int, error)
}

// CreateFunc builds a fresh record when MutateProgress finds none.
type CreateFunc func() *domain.Progress

// MutateFunc changes a record in place inside MutateProgress.
type MutateFunc func(p *domain.Progress) error
