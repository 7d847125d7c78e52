package lesson

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/gurukul/orchestration-core/internal/gkerr"
	"github.com/gurukul/orchestration-core/internal/models"
	"github.com/gurukul/orchestration-core/internal/store"
)

// Store is the Lesson Composer's GET-by-identity index: one row per
// (subject, topic), replacing the prior findLessonInSection/
// saveLessonProgress pair (a linear scan through a Firestore course
// document) with a primary-key lookup against sqlite.
type Store struct {
	db *store.DB
}

// NewStore builds a Store over db.
func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// Get returns the previously composed Lesson for (subject, topic), or
// gkerr.UnknownTask-shaped not-found if none exists yet.
func (s *Store) Get(ctx context.Context, subject, topic string) (*models.Lesson, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM lessons WHERE subject = ? AND topic = ?`, subject, topic)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gkerr.New(gkerr.UnknownTask, "no lesson recorded for this subject and topic")
		}
		return nil, gkerr.Wrap(gkerr.StorageUnavailable, "lesson lookup failed", err)
	}
	var l models.Lesson
	if err := json.Unmarshal([]byte(payload), &l); err != nil {
		return nil, gkerr.Wrap(gkerr.StorageUnavailable, "corrupt lesson payload", err)
	}
	return &l, nil
}

// Exists reports whether a Lesson has already been recorded for
// (subject, topic), the check the Gateway uses to enforce the
// force_regenerate conflict rule before ever invoking the Composer.
func (s *Store) Exists(ctx context.Context, subject, topic string) (bool, error) {
	_, err := s.Get(ctx, subject, topic)
	if err == nil {
		return true, nil
	}
	if ge, ok := gkerr.As(err); ok && ge.Kind == gkerr.UnknownTask {
		return false, nil
	}
	return false, err
}

// Save upserts l under (subject, topic), overwriting any prior artifact
// - the only path that does is a force_regenerate request.
func (s *Store) Save(ctx context.Context, l *models.Lesson) error {
	payload, err := json.Marshal(l)
	if err != nil {
		return gkerr.Wrap(gkerr.Internal, "marshal lesson failed", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lessons (subject, topic, payload, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(subject, topic) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		l.Subject, l.Topic, string(payload), time.Now().UTC())
	if err != nil {
		return gkerr.Wrap(gkerr.StorageUnavailable, "save lesson failed", err)
	}
	return nil
}
