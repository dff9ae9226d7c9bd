package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists learner memory in PostgreSQL. It is the backend
// for multi-session deployments where several pipelines share one store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS learner_profile (
			id SMALLINT PRIMARY KEY CHECK (id = 1),
			name TEXT NOT NULL DEFAULT '',
			level TEXT NOT NULL DEFAULT 'beginner',
			interests TEXT[] NOT NULL DEFAULT '{}',
			preferred_topics TEXT[] NOT NULL DEFAULT '{}',
			learning_goals TEXT[] NOT NULL DEFAULT '{}'
		);`,
		`CREATE TABLE IF NOT EXISTS lesson_history (
			id BIGSERIAL PRIMARY KEY,
			topic TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS mistakes (
			id BIGSERIAL PRIMARY KEY,
			kind TEXT NOT NULL,
			mistake TEXT NOT NULL,
			correction TEXT NOT NULL,
			explanation TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			review_count INT NOT NULL DEFAULT 0,
			last_reviewed TIMESTAMPTZ
		);`,
		`CREATE INDEX IF NOT EXISTS idx_mistakes_kind_id ON mistakes (kind, id);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Profile(ctx context.Context) (UserProfile, error) {
	var p UserProfile
	err := s.pool.QueryRow(ctx,
		`SELECT name, level, interests, preferred_topics, learning_goals
		 FROM learner_profile WHERE id = 1`,
	).Scan(&p.Name, &p.Level, &p.Interests, &p.PreferredTopics, &p.LearningGoals)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultProfile(), nil
	}
	if err != nil {
		return UserProfile{}, fmt.Errorf("query profile: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, patch ProfilePatch) (UserProfile, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return UserProfile{}, fmt.Errorf("begin profile update: %w", err)
	}
	defer tx.Rollback(ctx)

	p := DefaultProfile()
	err = tx.QueryRow(ctx,
		`SELECT name, level, interests, preferred_topics, learning_goals
		 FROM learner_profile WHERE id = 1 FOR UPDATE`,
	).Scan(&p.Name, &p.Level, &p.Interests, &p.PreferredTopics, &p.LearningGoals)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return UserProfile{}, fmt.Errorf("lock profile: %w", err)
	}

	p = patch.ApplyTo(p)
	_, err = tx.Exec(ctx,
		`INSERT INTO learner_profile (id, name, level, interests, preferred_topics, learning_goals)
		 VALUES (1, $1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			level = EXCLUDED.level,
			interests = EXCLUDED.interests,
			preferred_topics = EXCLUDED.preferred_topics,
			learning_goals = EXCLUDED.learning_goals`,
		p.Name, p.Level, p.Interests, p.PreferredTopics, p.LearningGoals,
	)
	if err != nil {
		return UserProfile{}, fmt.Errorf("upsert profile: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return UserProfile{}, fmt.Errorf("commit profile update: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) RecordMistake(ctx context.Context, kind MistakeKind, mistake, correction, explanation string) error {
	if !ValidKind(kind) {
		return kindErr(kind)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO mistakes (kind, mistake, correction, explanation, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		kind, mistake, correction, explanation, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record mistake: %w", err)
	}
	return nil
}

func (s *PostgresStore) MistakesForReview(ctx context.Context, kind *MistakeKind, limit int) ([]MistakeEntry, error) {
	if kind != nil && !ValidKind(*kind) {
		return nil, kindErr(*kind)
	}
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin review selection: %w", err)
	}
	defer tx.Rollback(ctx)

	var ids []int64
	if kind != nil {
		ids, err = reviewIDs(ctx, tx, *kind, limit)
		if err != nil {
			return nil, err
		}
	} else {
		per := perBucket(limit)
		for _, k := range Kinds {
			bucket, err := reviewIDs(ctx, tx, k, per)
			if err != nil {
				return nil, err
			}
			ids = append(ids, bucket...)
		}
		if len(ids) > limit {
			ids = ids[:limit]
		}
	}
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	now := time.Now().UTC()
	rows, err := tx.Query(ctx,
		`UPDATE mistakes SET review_count = review_count + 1, last_reviewed = $2
		 WHERE id = ANY($1)
		 RETURNING id, kind, mistake, correction, explanation, created_at, review_count, last_reviewed`,
		ids, now,
	)
	if err != nil {
		return nil, fmt.Errorf("advance review counts: %w", err)
	}
	byID := make(map[int64]MistakeEntry, len(ids))
	for rows.Next() {
		var id int64
		var e MistakeEntry
		if err := rows.Scan(&id, &e.Kind, &e.Mistake, &e.Correction, &e.Explanation, &e.CreatedAt, &e.ReviewCount, &e.LastReviewed); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan review row: %w", err)
		}
		byID[id] = e
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("review rows: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit review selection: %w", err)
	}

	// RETURNING order is unspecified; restore insertion order.
	out := make([]MistakeEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func reviewIDs(ctx context.Context, tx pgx.Tx, kind MistakeKind, limit int) ([]int64, error) {
	rows, err := tx.Query(ctx,
		`SELECT id FROM mistakes WHERE kind = $1 ORDER BY id LIMIT $2`,
		kind, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select %s review ids: %w", kind, err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan review id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) SaveLesson(ctx context.Context, topic, content string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO lesson_history (topic, content, created_at) VALUES ($1, $2, $3)`,
		topic, content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save lesson: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentLessons(ctx context.Context, limit int) ([]LessonRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx,
		`SELECT topic, content, created_at FROM lesson_history ORDER BY id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent lessons: %w", err)
	}
	defer rows.Close()

	var reversed []LessonRecord
	for rows.Next() {
		var r LessonRecord
		if err := rows.Scan(&r.Topic, &r.Content, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan lesson row: %w", err)
		}
		reversed = append(reversed, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lesson rows: %w", err)
	}

	out := make([]LessonRecord, len(reversed))
	for i, r := range reversed {
		out[len(reversed)-1-i] = r
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
