// Package badgerstore implements store.Store on an embedded Badger database.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/storylingo/storylingo-server/internal/domain"
	"github.com/storylingo/storylingo-server/internal/store"
)

// maxTxnRetries bounds how often MutateProgress re-runs after a write conflict.
const maxTxnRetries = 16

// Store wraps a Badger database instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open creates a Store backed by the database directory at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil            // Disable Badger's internal logging
	opts.SyncWrites = true       // Ensure writes are synced to disk to prevent corruption on crashes
	opts.CompactL0OnClose = true // Compact L0 tables on close for faster startup
	return open(opts, logger)
}

// OpenInMemory creates a Store that keeps everything in memory.
func OpenInMemory(logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts, logger)
}

func open(opts badger.Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	logger.Info("Badger database opened successfully", "path", opts.Dir, "in_memory", opts.InMemory)

	return &Store{
		db:     db,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Close gracefully closes the database connection.
func (s *Store) Close() error {
	s.logger.Info("Closing database connection")
	return s.db.Close()
}

// Ping reports whether the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return errors.New("badger db is closed")
	}
	return s.db.View(func(*badger.Txn) error { return nil })
}

// GetProgress retrieves one record.
func (s *Store) GetProgress(ctx context.Context, key domain.ProgressKey) (*domain.Progress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var p *domain.Progress
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, err = readProgress(txn, progressKey(key))
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListProgressForUser returns a user's records ordered by story.
func (s *Store) ListProgressForUser(ctx context.Context, userID int64) ([]*domain.Progress, error) {
	records, err := s.scan(ctx, userPrefix(userID))
	if err != nil {
		return nil, err
	}
	store.SortByUserStory(records)
	return records, nil
}

// ListAllProgress returns every record ordered by user, then story.
func (s *Store) ListAllProgress(ctx context.Context) ([]*domain.Progress, error) {
	records, err := s.scan(ctx, []byte(progressPrefix))
	if err != nil {
		return nil, err
	}
	store.SortByUserStory(records)
	return records, nil
}

// ListProgressForStory returns a story's records ordered by user.
// Uses the story index and fetches records in the same transaction.
func (s *Store) ListProgressForStory(ctx context.Context, storyID int64) ([]*domain.Progress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []*domain.Progress
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := storyIndexPrefix(storyID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			primary, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			keys = append(keys, primary)
		}

		for _, k := range keys {
			p, err := readProgress(txn, k)
			if errors.Is(err, store.ErrProgressNotFound) {
				// Dangling index entry; skip.
				continue
			}
			if err != nil {
				return err
			}
			records = append(records, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	store.SortByUserStory(records)
	return records, nil
}

// PutProgress inserts or replaces a record.
func (s *Store) PutProgress(ctx context.Context, p *domain.Progress) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.CheckRecord(p); err != nil {
		return err
	}

	return s.update(ctx, func(txn *badger.Txn) error {
		var createdAt time.Time
		existing, err := readProgress(txn, progressKey(p.Key()))
		switch {
		case err == nil:
			createdAt = existing.CreatedAt
		case !errors.Is(err, store.ErrProgressNotFound):
			return err
		}

		store.Stamp(p, createdAt, s.now())
		return writeProgress(txn, p)
	})
}

// MutateProgress performs an atomic read-modify-write of one record.
// Badger uses optimistic concurrency, so the whole read-modify-write is
// re-run when another writer commits the same key first.
func (s *Store) MutateProgress(
	ctx context.Context,
	key domain.ProgressKey,
	create store.CreateFunc,
	mutate store.MutateFunc,
) (*domain.Progress, error) {
	var result *domain.Progress

	err := s.update(ctx, func(txn *badger.Txn) error {
		p, err := readProgress(txn, progressKey(key))
		if errors.Is(err, store.ErrProgressNotFound) && create != nil {
			p, err = create(), nil
			if p == nil {
				return store.ErrInvalidInput.WithMessage("create returned nil progress")
			}
		}
		if err != nil {
			return err
		}

		createdAt := p.CreatedAt
		if err := mutate(p); err != nil {
			return err
		}

		p.UserID, p.StoryID = key.UserID, key.StoryID
		if err := store.CheckRecord(p); err != nil {
			return err
		}

		store.Stamp(p, createdAt, s.now())
		if err := writeProgress(txn, p); err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteProgress removes one record and its index entry.
func (s *Store) DeleteProgress(ctx context.Context, key domain.ProgressKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(progressKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return store.ErrProgressNotFound
		}
		if err != nil {
			return err
		}
		return deleteProgress(txn, key)
	})
}

// DeleteAllProgressForUser removes every record for userID.
func (s *Store) DeleteAllProgressForUser(ctx context.Context, userID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var deleted int
	err := s.update(ctx, func(txn *badger.Txn) error {
		deleted = 0
		prefix := userPrefix(userID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		var keys []domain.ProgressKey
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k, err := parseProgressKey(it.Item().Key())
			if err != nil {
				it.Close()
				return err
			}
			keys = append(keys, k)
		}
		it.Close()

		for _, k := range keys {
			if err := deleteProgress(txn, k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.logger.Info("deleted all story progress for user", "user_id", userID, "count", deleted)
	}
	return deleted, nil
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 1; attempt <= maxTxnRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debug("badger transaction conflict, retrying", "attempt", attempt)
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", maxTxnRetries, err)
}

// scan loads every record under a primary-key prefix in one transaction.
func (s *Store) scan(ctx context.Context, prefix []byte) ([]*domain.Progress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []*domain.Progress
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p domain.Progress
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			})
			if err != nil {
				return fmt.Errorf("unmarshal progress %s: %w", it.Item().Key(), err)
			}
			records = append(records, &p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func readProgress(txn *badger.Txn, key []byte) (*domain.Progress, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrProgressNotFound
	}
	if err != nil {
		return nil, err
	}

	var p domain.Progress
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &p)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal progress: %w", err)
	}
	if p.VocabularyLearned == nil {
		p.VocabularyLearned = []string{}
	}
	return &p, nil
}

// writeProgress stores the record and its story index entry.
func writeProgress(txn *badger.Txn, p *domain.Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	primary := progressKey(p.Key())
	if err := txn.Set(primary, data); err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	if err := txn.Set(storyIndexKey(p.Key()), primary); err != nil {
		return fmt.Errorf("set story index: %w", err)
	}
	return nil
}

func deleteProgress(txn *badger.Txn, key domain.ProgressKey) error {
	if err := txn.Delete(progressKey(key)); err != nil {
		return fmt.Errorf("delete progress: %w", err)
	}
	if err := txn.Delete(storyIndexKey(key)); err != nil {
		return fmt.Errorf("delete story index: %w", err)
	}
	return nil
}
