// Package history persists failure episodes and their detections in an
// embedded SQLite database so the status API can answer "what happened while
// I was away"
package history

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"printguard/internal/core/detection"
	perr "printguard/internal/platform/errors"
	"printguard/internal/platform/logger"
	"printguard/internal/services/watch/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id           TEXT PRIMARY KEY,
	source_index INTEGER NOT NULL,
	source_url   TEXT NOT NULL,
	class_id     INTEGER NOT NULL,
	label        TEXT NOT NULL,
	objectness   REAL NOT NULL,
	class_prob   REAL NOT NULL,
	raised_at    TIMESTAMP NOT NULL,
	cleared_at   TIMESTAMP
);
CREATE TABLE IF NOT EXISTS detections (
	episode_id TEXT NOT NULL REFERENCES episodes(id),
	objectness REAL NOT NULL,
	class_prob REAL NOT NULL,
	x REAL NOT NULL,
	y REAL NOT NULL,
	w REAL NOT NULL,
	h REAL NOT NULL,
	at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_detections_episode ON detections(episode_id);
CREATE INDEX IF NOT EXISTS idx_episodes_raised ON episodes(raised_at DESC);
`

// Episode is a persisted failure episode row
type Episode struct {
	ID          string     `json:"id"`
	SourceIndex int        `json:"source_index"`
	SourceURL   string     `json:"source_url"`
	ClassID     int        `json:"class_id"`
	Label       string     `json:"label"`
	Objectness  float32    `json:"objectness"`
	ClassProb   float32    `json:"class_prob"`
	RaisedAt    time.Time  `json:"raised_at"`
	ClearedAt   *time.Time `json:"cleared_at,omitempty"`
}

// Store implements domain.HistoryPort over SQLite
type Store struct {
	db  *sql.DB
	log *logger.Logger

	// sqlite allows a single writer; serialize writes ourselves rather than
	// relying on SQLITE_BUSY retries
	mu sync.Mutex
}

// Open creates or opens the database at path and applies the schema
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "open history db %q", path)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "apply history schema")
	}
	return &Store{db: db, log: logger.Named("history")}, nil
}

// Close closes the underlying database
func (s *Store) Close() error { return s.db.Close() }

// RecordRaise inserts a new episode row
func (s *Store) RecordRaise(ctx context.Context, ev domain.FailureEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO episodes (id, source_index, source_url, class_id, label, objectness, class_prob, raised_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SourceIndex, ev.SourceURL, ev.ClassID, ev.Label, ev.Objectness, ev.ClassProb, ev.At.UTC())
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "record raise %s", ev.ID)
	}
	return nil
}

// RecordClear stamps an episode as cleared
func (s *Store) RecordClear(ctx context.Context, episodeID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET cleared_at = ? WHERE id = ? AND cleared_at IS NULL`,
		at.UTC(), episodeID)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "record clear %s", episodeID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return perr.NotFoundf("episode %s not open", episodeID)
	}
	return nil
}

// RecordDetection appends one detection observed during an open episode
func (s *Store) RecordDetection(ctx context.Context, episodeID string, d detection.Filtered, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO detections (episode_id, objectness, class_prob, x, y, w, h, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		episodeID, d.Objectness, d.ClassProb, d.Box.X, d.Box.Y, d.Box.W, d.Box.H, at.UTC())
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "record detection for %s", episodeID)
	}
	return nil
}

// RecentEpisodes returns up to limit episodes, newest first
func (s *Store) RecentEpisodes(ctx context.Context, limit int) ([]Episode, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_index, source_url, class_id, label, objectness, class_prob, raised_at, cleared_at
		 FROM episodes ORDER BY raised_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "query recent episodes")
	}
	defer func() { _ = rows.Close() }()
	return scanEpisodes(rows)
}

// OpenEpisodes returns episodes without a cleared_at stamp
func (s *Store) OpenEpisodes(ctx context.Context) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_index, source_url, class_id, label, objectness, class_prob, raised_at, cleared_at
		 FROM episodes WHERE cleared_at IS NULL ORDER BY raised_at DESC`)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "query open episodes")
	}
	defer func() { _ = rows.Close() }()
	return scanEpisodes(rows)
}

// DetectionCount reports how many detections were logged for an episode
func (s *Store) DetectionCount(ctx context.Context, episodeID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM detections WHERE episode_id = ?`, episodeID).Scan(&n)
	if err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeDB, "count detections for %s", episodeID)
	}
	return n, nil
}

func scanEpisodes(rows *sql.Rows) ([]Episode, error) {
	var out []Episode
	for rows.Next() {
		var e Episode
		var cleared sql.NullTime
		if err := rows.Scan(&e.ID, &e.SourceIndex, &e.SourceURL, &e.ClassID, &e.Label,
			&e.Objectness, &e.ClassProb, &e.RaisedAt, &cleared); err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeDB, "scan episode row")
		}
		if cleared.Valid {
			t := cleared.Time
			e.ClearedAt = &t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "iterate episode rows")
	}
	return out, nil
}
