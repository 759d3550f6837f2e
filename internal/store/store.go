package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tomoprep/internal/config"
)

// Store manages pipeline state persistence backed by SQLite. All mutations go
// through Transition and AddPosition; the orchestration loop is the only
// writer during a run.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the state database and verifies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.LogDir, "tomoprep.db"))
}

// OpenPath opens the state database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the state database location.
func (s *Store) Path() string {
	return s.path
}

// AddPosition registers a discovered position. Re-adding a known position is a
// no-op so repeated discovery never resets stage history.
func (s *Store) AddPosition(ctx context.Context, name, mdocPath, workDir string) (Position, error) {
	if name == "" {
		return Position{}, errors.New("position name is empty")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO positions (name, mdoc_path, work_dir, discovered_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(name) DO NOTHING`,
		name,
		mdocPath,
		workDir,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Position{}, fmt.Errorf("insert position: %w", err)
	}
	return s.GetPosition(ctx, name)
}

// GetPosition fetches a position by name. Returns a zero Position and no error
// when the name is unknown.
func (s *Store) GetPosition(ctx context.Context, name string) (Position, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT name, mdoc_path, work_dir, discovered_at FROM positions WHERE name = ?`,
		name,
	)
	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, nil
	}
	if err != nil {
		return Position{}, fmt.Errorf("get position: %w", err)
	}
	return pos, nil
}

// Positions returns all known positions ordered by discovery time.
func (s *Store) Positions(ctx context.Context) ([]Position, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT name, mdoc_path, work_dir, discovered_at FROM positions ORDER BY discovered_at, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// Get fetches the StageStatus for one (position, stage) pair. Pairs never
// written return an implicit pending record.
func (s *Store) Get(ctx context.Context, position, stage string) (StageStatus, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+stageColumns+` FROM stage_status WHERE position = ? AND stage = ?`,
		position,
		stage,
	)
	record, err := scanStageStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StageStatus{Position: position, Stage: stage, Status: StatusPending}, nil
	}
	if err != nil {
		return StageStatus{}, fmt.Errorf("get stage status: %w", err)
	}
	return record, nil
}

// StagesFor returns the persisted stage records for one position keyed by
// stage name. Stages never written are absent; callers treat them as pending.
func (s *Store) StagesFor(ctx context.Context, position string) (map[string]StageStatus, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+stageColumns+` FROM stage_status WHERE position = ?`,
		position,
	)
	if err != nil {
		return nil, fmt.Errorf("query stages for position: %w", err)
	}
	defer rows.Close()

	statuses := make(map[string]StageStatus)
	for rows.Next() {
		record, err := scanStageStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses[record.Stage] = record
	}
	return statuses, rows.Err()
}

// TransitionDetails carries the optional fields recorded alongside a status change.
type TransitionDetails struct {
	JobID   string
	Failure string
	// BumpAttempt forces an attempt increment for failures that happened
	// before a job reached the scheduler (render or submission errors).
	// Transitions to StatusSubmitted always increment.
	BumpAttempt bool
}

// Transition moves a (position, stage) pair to a new status, enforcing the
// state machine. The returned record reflects the persisted row.
func (s *Store) Transition(ctx context.Context, position, stage string, next Status, details TransitionDetails) (StageStatus, error) {
	if _, ok := statusSet[next]; !ok {
		return StageStatus{}, fmt.Errorf("%w: %q", ErrUnknownStatus, next)
	}

	current, err := s.Get(ctx, position, stage)
	if err != nil {
		return StageStatus{}, err
	}
	if !current.Status.CanTransition(next) {
		return StageStatus{}, fmt.Errorf("%w: %s/%s %s -> %s",
			ErrInvalidTransition, position, stage, current.Status, next)
	}

	record := current
	record.Status = next
	record.UpdatedAt = time.Now().UTC()
	if next == StatusSubmitted || details.BumpAttempt {
		record.Attempts++
	}
	switch next {
	case StatusSubmitted:
		record.JobID = details.JobID
		record.Failure = ""
	case StatusFailed, StatusFailedTerminal:
		if details.Failure != "" {
			record.Failure = details.Failure
		}
	case StatusSucceeded:
		record.Failure = ""
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO stage_status (position, stage, status, job_id, attempts, failure, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(position, stage) DO UPDATE SET
             status = excluded.status,
             job_id = excluded.job_id,
             attempts = excluded.attempts,
             failure = excluded.failure,
             updated_at = excluded.updated_at`,
		record.Position,
		record.Stage,
		record.Status,
		nullableString(record.JobID),
		record.Attempts,
		nullableString(record.Failure),
		record.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return StageStatus{}, fmt.Errorf("persist transition: %w", err)
	}
	return record, nil
}

// ListInFlight returns every pair currently occupying a quota slot.
func (s *Store) ListInFlight(ctx context.Context) ([]StageStatus, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+stageColumns+` FROM stage_status WHERE status IN (?, ?)`,
		StatusSubmitted,
		StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("list in-flight: %w", err)
	}
	defer rows.Close()

	var records []StageStatus
	for rows.Next() {
		record, err := scanStageStatus(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Snapshot returns every persisted stage record.
func (s *Store) Snapshot(ctx context.Context) ([]StageStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stageColumns+` FROM stage_status`)
	if err != nil {
		return nil, fmt.Errorf("snapshot stage status: %w", err)
	}
	defer rows.Close()

	var records []StageStatus
	for rows.Next() {
		record, err := scanStageStatus(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Stats returns a count of stage records grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM stage_status GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("state stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

const stageColumns = "position, stage, status, job_id, attempts, failure, updated_at"

func scanPosition(scanner interface{ Scan(dest ...any) error }) (Position, error) {
	var (
		pos           Position
		discoveredRaw string
	)
	if err := scanner.Scan(&pos.Name, &pos.MdocPath, &pos.WorkDir, &discoveredRaw); err != nil {
		return Position{}, err
	}
	if discovered, err := time.Parse(time.RFC3339Nano, discoveredRaw); err == nil {
		pos.DiscoveredAt = discovered
	}
	return pos, nil
}

func scanStageStatus(scanner interface{ Scan(dest ...any) error }) (StageStatus, error) {
	var (
		record     StageStatus
		statusStr  string
		jobID      sql.NullString
		failure    sql.NullString
		updatedRaw string
	)
	if err := scanner.Scan(
		&record.Position,
		&record.Stage,
		&statusStr,
		&jobID,
		&record.Attempts,
		&failure,
		&updatedRaw,
	); err != nil {
		return StageStatus{}, err
	}
	record.Status = Status(statusStr)
	record.JobID = jobID.String
	record.Failure = failure.String
	if updated, err := time.Parse(time.RFC3339Nano, updatedRaw); err == nil {
		record.UpdatedAt = updated
	}
	return record, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
