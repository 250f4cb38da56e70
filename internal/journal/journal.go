package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"docket-harvester/internal/domain"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	queue_size INTEGER NOT NULL DEFAULT 0,
	start_index INTEGER NOT NULL DEFAULT 0,
	last_index INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NULL
);
`

const createBatchesTable = `
CREATE TABLE IF NOT EXISTS archive_batches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	sequence_number INTEGER NOT NULL,
	archive_path TEXT NOT NULL,
	file_count INTEGER NOT NULL,
	size_bytes INTEGER NOT NULL,
	remote_location TEXT NOT NULL DEFAULT '',
	sealed_at DATETIME NOT NULL
);
`

const createEpisodesTable = `
CREATE TABLE IF NOT EXISTS session_episodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	item_index INTEGER NOT NULL,
	trigger_kind TEXT NOT NULL,
	occurred_at DATETIME NOT NULL
);
`

// Journal is the durable audit record of harvester runs: one row per run
// with consolidated counters, plus every sealed archive batch and every
// session-expiry episode. It backs the status API and post-mortem review;
// the transfer engine itself resumes from the checkpoint file, not from here.
// ErrRunNotFound is returned when a run id matches no journal row.
var ErrRunNotFound = errors.New("run not found")

type Journal struct {
	db *sql.DB

	mu        sync.Mutex
	activeRun string
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

func (j *Journal) Init(ctx context.Context) error {
	for _, ddl := range []string{createRunsTable, createBatchesTable, createEpisodesTable} {
		if _, err := j.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create journal tables: %w", err)
		}
	}
	return nil
}

// StartRun inserts a new running row and returns its generated id.
func (j *Journal) StartRun(ctx context.Context, queueSize, startIndex int) (string, error) {
	id := uuid.NewString()
	_, err := j.db.ExecContext(ctx, `
INSERT INTO runs (id, status, queue_size, start_index, last_index, started_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		id,
		string(domain.RunStatusRunning),
		queueSize,
		startIndex,
		startIndex,
		time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	j.mu.Lock()
	j.activeRun = id
	j.mu.Unlock()
	return id, nil
}

// ActiveRun returns the id of the run started last and not yet finished, or
// the empty string. Sinks use it to key events without threading run ids
// through the engine.
func (j *Journal) ActiveRun() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.activeRun
}

// UpdateRunProgress refreshes the counters of a running row.
func (j *Journal) UpdateRunProgress(ctx context.Context, runID string, prog domain.TransferProgress) error {
	_, err := j.db.ExecContext(ctx, `
UPDATE runs
SET last_index=?, success_count=?, error_count=?
WHERE id=?`,
		prog.LastProcessedIndex,
		prog.SuccessCount,
		prog.ErrorCount,
		runID,
	)
	if err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	return nil
}

// FinishRun records the terminal status and final counters of a run.
func (j *Journal) FinishRun(ctx context.Context, runID string, status domain.RunStatus, prog domain.TransferProgress) error {
	_, err := j.db.ExecContext(ctx, `
UPDATE runs
SET status=?, last_index=?, success_count=?, error_count=?, finished_at=?
WHERE id=?`,
		string(status),
		prog.LastProcessedIndex,
		prog.SuccessCount,
		prog.ErrorCount,
		time.Now().UTC(),
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	j.mu.Lock()
	if j.activeRun == runID {
		j.activeRun = ""
	}
	j.mu.Unlock()
	return nil
}

func (j *Journal) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := j.db.QueryRowContext(ctx, `
SELECT id, status, queue_size, start_index, last_index, success_count, error_count, started_at, finished_at
FROM runs WHERE id=?`, runID)
	return scanRun(row)
}

// ListRuns returns runs newest first.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, status, queue_size, start_index, last_index, success_count, error_count, started_at, finished_at
FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// RecordBatch stores a sealed archive batch.
func (j *Journal) RecordBatch(ctx context.Context, runID string, batch domain.ArchiveBatch) error {
	_, err := j.db.ExecContext(ctx, `
INSERT INTO archive_batches (run_id, sequence_number, archive_path, file_count, size_bytes, remote_location, sealed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID,
		batch.SequenceNumber,
		batch.ArchivePath,
		len(batch.MemberFiles),
		batch.SizeBytes,
		batch.RemoteLocation,
		batch.SealedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert archive batch: %w", err)
	}
	return nil
}

// BatchRecord is the journal's view of a sealed batch.
type BatchRecord struct {
	ID             int64
	RunID          string
	SequenceNumber int
	ArchivePath    string
	FileCount      int
	SizeBytes      int64
	RemoteLocation string
	SealedAt       time.Time
}

// ListBatches returns sealed batches newest first.
func (j *Journal) ListBatches(ctx context.Context, limit int) ([]BatchRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, run_id, sequence_number, archive_path, file_count, size_bytes, remote_location, sealed_at
FROM archive_batches ORDER BY sequence_number DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []BatchRecord
	for rows.Next() {
		var b BatchRecord
		if err := rows.Scan(&b.ID, &b.RunID, &b.SequenceNumber, &b.ArchivePath, &b.FileCount, &b.SizeBytes, &b.RemoteLocation, &b.SealedAt); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// RecordEpisode stores one session-expiry episode.
func (j *Journal) RecordEpisode(ctx context.Context, runID string, itemIndex int, trigger string) error {
	_, err := j.db.ExecContext(ctx, `
INSERT INTO session_episodes (run_id, item_index, trigger_kind, occurred_at)
VALUES (?, ?, ?, ?)`,
		runID,
		itemIndex,
		trigger,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert session episode: %w", err)
	}
	return nil
}

// ListEpisodes returns recovery episodes for a run, oldest first.
func (j *Journal) ListEpisodes(ctx context.Context, runID string) ([]domain.SessionEpisode, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT id, run_id, item_index, trigger_kind, occurred_at
FROM session_episodes WHERE run_id=? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var episodes []domain.SessionEpisode
	for rows.Next() {
		var e domain.SessionEpisode
		if err := rows.Scan(&e.ID, &e.RunID, &e.ItemIndex, &e.Trigger, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		episodes = append(episodes, e)
	}
	return episodes, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var (
		run      domain.Run
		status   string
		finished sql.NullTime
	)
	if err := row.Scan(&run.ID, &status, &run.QueueSize, &run.StartIndex, &run.LastIndex, &run.SuccessCount, &run.ErrorCount, &run.StartedAt, &finished); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Status = domain.RunStatus(status)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
