package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/storylingo/storylingo-server/internal/domain"
	"github.com/storylingo/storylingo-server/internal/store"
)

// progressColumns is the ordered list of columns selected in progress queries.
// Must match the db tags on progressRow.
const progressColumns = `user_id, story_id, completion_percentage, current_chapter, time_spent,
	quiz_score, vocabulary_learned, pronunciation_attempts, avg_pronunciation_score,
	last_accessed, is_completed, status, created_at, updated_at`

const upsertProgressSQL = `INSERT INTO story_progress (` + progressColumns + `)
	VALUES (:user_id, :story_id, :completion_percentage, :current_chapter, :time_spent,
		:quiz_score, :vocabulary_learned, :pronunciation_attempts, :avg_pronunciation_score,
		:last_accessed, :is_completed, :status, :created_at, :updated_at)
	ON CONFLICT (user_id, story_id) DO UPDATE SET
		completion_percentage = excluded.completion_percentage,
		current_chapter = excluded.current_chapter,
		time_spent = excluded.time_spent,
		quiz_score = excluded.quiz_score,
		vocabulary_learned = excluded.vocabulary_learned,
		pronunciation_attempts = excluded.pronunciation_attempts,
		avg_pronunciation_score = excluded.avg_pronunciation_score,
		last_accessed = excluded.last_accessed,
		is_completed = excluded.is_completed,
		status = excluded.status,
		updated_at = excluded.updated_at`

// insertIgnoreSQL seeds a new record without touching an existing one.
const insertIgnoreSQL = `INSERT INTO story_progress (` + progressColumns + `)
	VALUES (:user_id, :story_id, :completion_percentage, :current_chapter, :time_spent,
		:quiz_score, :vocabulary_learned, :pronunciation_attempts, :avg_pronunciation_score,
		:last_accessed, :is_completed, :status, :created_at, :updated_at)
	ON CONFLICT (user_id, story_id) DO NOTHING`

// progressRow is the storage shape of a domain.Progress.
type progressRow struct {
	UserID                int64           `db:"user_id"`
	StoryID               int64           `db:"story_id"`
	CompletionPercentage  int             `db:"completion_percentage"`
	CurrentChapter        int             `db:"current_chapter"`
	TimeSpent             int64           `db:"time_spent"`
	QuizScore             sql.NullInt64   `db:"quiz_score"`
	VocabularyLearned     string          `db:"vocabulary_learned"` // JSON array
	PronunciationAttempts int             `db:"pronunciation_attempts"`
	AvgPronunciationScore sql.NullFloat64 `db:"avg_pronunciation_score"`
	LastAccessed          string          `db:"last_accessed"`
	IsCompleted           bool            `db:"is_completed"`
	Status                string          `db:"status"`
	CreatedAt             string          `db:"created_at"`
	UpdatedAt             string          `db:"updated_at"`
}

func toRow(p *domain.Progress) (*progressRow, error) {
	vocab := p.VocabularyLearned
	if vocab == nil {
		vocab = []string{}
	}
	vocabJSON, err := json.Marshal(vocab)
	if err != nil {
		return nil, fmt.Errorf("marshal vocabulary: %w", err)
	}

	return &progressRow{
		UserID:                p.UserID,
		StoryID:               p.StoryID,
		CompletionPercentage:  p.CompletionPercentage,
		CurrentChapter:        p.CurrentChapter,
		TimeSpent:             p.TimeSpent,
		QuizScore:             nullInt(p.QuizScore),
		VocabularyLearned:     string(vocabJSON),
		PronunciationAttempts: p.PronunciationAttempts,
		AvgPronunciationScore: nullFloat(p.AvgPronunciationScore),
		LastAccessed:          formatTime(p.LastAccessed),
		IsCompleted:           p.IsCompleted,
		Status:                string(p.Status),
		CreatedAt:             formatTime(p.CreatedAt),
		UpdatedAt:             formatTime(p.UpdatedAt),
	}, nil
}

func (r *progressRow) toDomain() (*domain.Progress, error) {
	p := &domain.Progress{
		UserID:                r.UserID,
		StoryID:               r.StoryID,
		CompletionPercentage:  r.CompletionPercentage,
		CurrentChapter:        r.CurrentChapter,
		TimeSpent:             r.TimeSpent,
		PronunciationAttempts: r.PronunciationAttempts,
		IsCompleted:           r.IsCompleted,
		Status:                domain.ProgressStatus(r.Status),
	}

	if r.QuizScore.Valid {
		v := int(r.QuizScore.Int64)
		p.QuizScore = &v
	}
	if r.AvgPronunciationScore.Valid {
		v := r.AvgPronunciationScore.Float64
		p.AvgPronunciationScore = &v
	}

	p.VocabularyLearned = []string{}
	if r.VocabularyLearned != "" {
		if err := json.Unmarshal([]byte(r.VocabularyLearned), &p.VocabularyLearned); err != nil {
			return nil, fmt.Errorf("unmarshal vocabulary: %w", err)
		}
	}

	var err error
	if p.LastAccessed, err = parseTime(r.LastAccessed); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

func rowsToDomain(rows []progressRow) ([]*domain.Progress, error) {
	out := make([]*domain.Progress, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// GetProgress retrieves one record.
func (s *Store) GetProgress(ctx context.Context, key domain.ProgressKey) (*domain.Progress, error) {
	return s.getProgress(ctx, s.db, key, "")
}

func (s *Store) getProgress(ctx context.Context, q sqlx.QueryerContext, key domain.ProgressKey, suffix string) (*domain.Progress, error) {
	query := s.db.Rebind(`SELECT ` + progressColumns + ` FROM story_progress
		WHERE user_id = ? AND story_id = ?` + suffix)

	var row progressRow
	err := sqlx.GetContext(ctx, q, &row, query, key.UserID, key.StoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrProgressNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get progress %s: %w", key, err)
	}
	return row.toDomain()
}

// ListProgressForUser returns a user's records ordered by story.
func (s *Store) ListProgressForUser(ctx context.Context, userID int64) ([]*domain.Progress, error) {
	return s.list(ctx, `WHERE user_id = ? ORDER BY story_id`, userID)
}

// ListProgressForStory returns a story's records ordered by user.
func (s *Store) ListProgressForStory(ctx context.Context, storyID int64) ([]*domain.Progress, error) {
	return s.list(ctx, `WHERE story_id = ? ORDER BY user_id`, storyID)
}

// ListAllProgress returns every record ordered by user, then story.
func (s *Store) ListAllProgress(ctx context.Context) ([]*domain.Progress, error) {
	return s.list(ctx, `ORDER BY user_id, story_id`)
}

func (s *Store) list(ctx context.Context, where string, args ...any) ([]*domain.Progress, error) {
	query := s.db.Rebind(`SELECT ` + progressColumns + ` FROM story_progress ` + where)

	var rows []progressRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return rowsToDomain(rows)
}

// PutProgress inserts or replaces a record, keeping the stored creation time.
func (s *Store) PutProgress(ctx context.Context, p *domain.Progress) error {
	if err := store.CheckRecord(p); err != nil {
		return err
	}

	return s.withWriteTx(ctx, func(tx *sqlx.Tx) error {
		var createdAt time.Time
		existing, err := s.getProgress(ctx, tx, p.Key(), s.dialect.lockClause)
		switch {
		case err == nil:
			createdAt = existing.CreatedAt
		case !errors.Is(err, store.ErrProgressNotFound):
			return err
		}

		store.Stamp(p, createdAt, s.now())
		return s.exec(ctx, tx, upsertProgressSQL, p)
	})
}

// MutateProgress performs an atomic read-modify-write of one record.
//
// A missing record is first seeded with INSERT .. DO NOTHING and then read
// back under the row lock, so concurrent creators converge on one row.
func (s *Store) MutateProgress(
	ctx context.Context,
	key domain.ProgressKey,
	create store.CreateFunc,
	mutate store.MutateFunc,
) (*domain.Progress, error) {
	var result *domain.Progress

	err := s.withWriteTx(ctx, func(tx *sqlx.Tx) error {
		p, err := s.getProgress(ctx, tx, key, s.dialect.lockClause)
		if errors.Is(err, store.ErrProgressNotFound) && create != nil {
			seed := create()
			if seed == nil {
				return store.ErrInvalidInput.WithMessage("create returned nil progress")
			}
			seed.UserID, seed.StoryID = key.UserID, key.StoryID
			if err := store.CheckRecord(seed); err != nil {
				return err
			}
			store.Stamp(seed, time.Time{}, s.now())
			if err := s.exec(ctx, tx, insertIgnoreSQL, seed); err != nil {
				return err
			}
			p, err = s.getProgress(ctx, tx, key, s.dialect.lockClause)
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
		if err := s.exec(ctx, tx, upsertProgressSQL, p); err != nil {
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

// DeleteProgress removes one record.
func (s *Store) DeleteProgress(ctx context.Context, key domain.ProgressKey) error {
	var affected int64
	err := s.withWriteTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			tx.Rebind(`DELETE FROM story_progress WHERE user_id = ? AND story_id = ?`),
			key.UserID, key.StoryID)
		if err != nil {
			return fmt.Errorf("delete progress %s: %w", key, err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrProgressNotFound
	}
	return nil
}

// DeleteAllProgressForUser removes every record for userID.
func (s *Store) DeleteAllProgressForUser(ctx context.Context, userID int64) (int, error) {
	var affected int64
	err := s.withWriteTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			tx.Rebind(`DELETE FROM story_progress WHERE user_id = ?`), userID)
		if err != nil {
			return fmt.Errorf("delete progress for user %d: %w", userID, err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	if affected > 0 {
		s.logger.Info("deleted all story progress for user", "user_id", userID, "count", affected)
	}
	return int(affected), nil
}

func (s *Store) exec(ctx context.Context, tx *sqlx.Tx, query string, p *domain.Progress) error {
	row, err := toRow(p)
	if err != nil {
		return err
	}
	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("write progress %s: %w", p.Key(), err)
	}
	return nil
}
