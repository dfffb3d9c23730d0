// Package checkpoint persists controller snapshots in SQLite. Every snapshot
// is written as a single row inside a transaction, so a checkpoint is either
// fully present or absent.
package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/rlcfm/phase-curriculum/curriculum"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	step          INTEGER NOT NULL,
	snapshot      TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS checkpoints_run_step ON checkpoints (run_id, step);
`

// createdAtLayout is fixed-width so created_at strings sort chronologically.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a run has no checkpoint.
var ErrNotFound = errors.New("checkpoint not found")

// Record is one stored checkpoint.
type Record struct {
	CheckpointID string
	RunID        string
	Step         int64
	Snapshot     curriculum.Snapshot
	CreatedAt    time.Time
}

// Store manages controller checkpoints in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// Save writes a snapshot for runID and returns the new checkpoint id.
func (s *Store) Save(runID string, snap curriculum.Snapshot) (string, error) {
	data, err := curriculum.MarshalSnapshot(snap)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO checkpoints (checkpoint_id, run_id, step, snapshot, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, runID, snap.Step, string(data), now.Format(createdAtLayout),
	)
	if err != nil {
		return "", fmt.Errorf("insert checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	logrus.Debugf("saved checkpoint %s for run %s at step %d", id, runID, snap.Step)
	return id, nil
}

// Latest returns the checkpoint with the highest step for runID.
func (s *Store) Latest(runID string) (Record, error) {
	row := s.db.QueryRow(
		`SELECT checkpoint_id, run_id, step, snapshot, created_at
		 FROM checkpoints WHERE run_id = ?
		 ORDER BY step DESC, created_at DESC, rowid DESC LIMIT 1`,
		runID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return rec, err
}

// List returns every checkpoint of runID ordered by step ascending.
func (s *Store) List(runID string) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT checkpoint_id, run_id, step, snapshot, created_at
		 FROM checkpoints WHERE run_id = ?
		 ORDER BY step ASC, created_at ASC, rowid ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep checkpoints of runID and returns the
// number removed.
func (s *Store) Prune(runID string, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("prune: keep must be >= 0, got %d", keep)
	}
	res, err := s.db.Exec(
		`DELETE FROM checkpoints WHERE run_id = ? AND checkpoint_id NOT IN (
			SELECT checkpoint_id FROM checkpoints WHERE run_id = ?
			ORDER BY step DESC, created_at DESC, rowid DESC LIMIT ?
		)`,
		runID, runID, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec       Record
		data      string
		createdAt string
	)
	if err := row.Scan(&rec.CheckpointID, &rec.RunID, &rec.Step, &data, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan checkpoint: %w", err)
	}
	snap, err := curriculum.UnmarshalSnapshot([]byte(data))
	if err != nil {
		return Record{}, fmt.Errorf("checkpoint %s: %w", rec.CheckpointID, err)
	}
	rec.Snapshot = snap
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	rec.CreatedAt = t
	return rec, nil
}
