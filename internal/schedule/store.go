// Package schedule persists and executes recurring run launches.
package schedule

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrInvalidCron      = errors.New("invalid cron expression")
)

// Overlap defines what happens when a schedule fires while its previous
// launch is still in flight.
type Overlap string

const (
	OverlapSkip     Overlap = "skip"     // don't launch if previous still running
	OverlapParallel Overlap = "parallel" // allow concurrent launches
)

// IsValidOverlap checks if the overlap behavior is valid.
func IsValidOverlap(o Overlap) bool {
	return o == OverlapSkip || o == OverlapParallel
}

// Schedule launches a run for an agent on a cron schedule.
type Schedule struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CronExpr  string     `json:"cron_expr"` // standard 5-field cron
	AgentID   string     `json:"agent_id"`
	Input     string     `json:"input"` // prompt handed to the run
	Enabled   bool       `json:"enabled"`
	Overlap   Overlap    `json:"overlap"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// LaunchStatus is the recorded outcome of one scheduled launch.
type LaunchStatus string

const (
	LaunchOK      LaunchStatus = "launched"
	LaunchFailed  LaunchStatus = "failed"
	LaunchSkipped LaunchStatus = "skipped"
)

// Launch records a single firing of a schedule.
type Launch struct {
	ID         string       `json:"id"`
	ScheduleID string       `json:"schedule_id"`
	RunID      string       `json:"run_id,omitempty"`
	ExecutedAt time.Time    `json:"executed_at"`
	Status     LaunchStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
}

// Store handles schedule persistence with a SQLite backend.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the schedule database in dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "schedules.db")
	// WAL and a busy timeout for concurrent runner/CLI access.
	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		cron_expr TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		input TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		overlap TEXT NOT NULL DEFAULT 'skip',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_run_at DATETIME,
		next_run_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_enabled ON schedules(enabled);
	CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(next_run_at);

	CREATE TABLE IF NOT EXISTS launches (
		id TEXT PRIMARY KEY,
		schedule_id TEXT NOT NULL,
		run_id TEXT,
		executed_at DATETIME NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		FOREIGN KEY (schedule_id) REFERENCES schedules(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_launches_schedule ON launches(schedule_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new schedule, validating its cron expression and
// computing the first fire time.
func (s *Store) Create(schedule *Schedule) error {
	if err := ValidateCron(schedule.CronExpr); err != nil {
		return err
	}
	if schedule.Overlap == "" {
		schedule.Overlap = OverlapSkip
	}
	if !IsValidOverlap(schedule.Overlap) {
		return fmt.Errorf("invalid overlap behavior %q", schedule.Overlap)
	}

	if schedule.ID == "" {
		schedule.ID = "sched_" + uuid.New().String()[:8]
	}
	now := time.Now()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now

	if schedule.NextRunAt == nil && schedule.Enabled {
		nextRun, err := NextRun(schedule.CronExpr, now)
		if err == nil {
			schedule.NextRunAt = &nextRun
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO schedules (id, name, cron_expr, agent_id, input, enabled, overlap,
		                       created_at, updated_at, last_run_at, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		schedule.ID, schedule.Name, schedule.CronExpr, schedule.AgentID, schedule.Input,
		schedule.Enabled, schedule.Overlap,
		schedule.CreatedAt, schedule.UpdatedAt, schedule.LastRunAt, schedule.NextRunAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert schedule: %w", err)
	}
	return nil
}

const scheduleColumns = `id, name, cron_expr, agent_id, input, enabled, overlap,
	created_at, updated_at, last_run_at, next_run_at`

func scanSchedule(row interface{ Scan(...any) error }) (*Schedule, error) {
	var schedule Schedule
	var enabled int
	var lastRunAt, nextRunAt sql.NullTime

	err := row.Scan(
		&schedule.ID, &schedule.Name, &schedule.CronExpr, &schedule.AgentID, &schedule.Input,
		&enabled, &schedule.Overlap,
		&schedule.CreatedAt, &schedule.UpdatedAt, &lastRunAt, &nextRunAt,
	)
	if err != nil {
		return nil, err
	}

	schedule.Enabled = enabled != 0
	if lastRunAt.Valid {
		schedule.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		schedule.NextRunAt = &nextRunAt.Time
	}
	return &schedule, nil
}

// Get retrieves a schedule by ID.
func (s *Store) Get(id string) (*Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	schedule, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule: %w", err)
	}
	return schedule, nil
}

// List returns all schedules ordered by creation time.
func (s *Store) List() ([]*Schedule, error) {
	rows, err := s.db.Query(`SELECT ` + scheduleColumns + ` FROM schedules ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var schedules []*Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

// ListDue returns enabled schedules whose next fire time has passed.
func (s *Store) ListDue(now time.Time) ([]*Schedule, error) {
	rows, err := s.db.Query(
		`SELECT `+scheduleColumns+` FROM schedules
		 WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var schedules []*Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

// SetEnabled pauses or resumes a schedule. Resuming recomputes the
// next fire time from now.
func (s *Store) SetEnabled(id string, enabled bool) error {
	schedule, err := s.Get(id)
	if err != nil {
		return err
	}

	var nextRunAt *time.Time
	if enabled {
		next, err := NextRun(schedule.CronExpr, time.Now())
		if err != nil {
			return err
		}
		nextRunAt = &next
	}

	_, err = s.db.Exec(
		`UPDATE schedules SET enabled = ?, next_run_at = ?, updated_at = ? WHERE id = ?`,
		enabled, nextRunAt, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return nil
}

// UpdateRunTimes records the last fire and the next fire time.
func (s *Store) UpdateRunTimes(id string, lastRun, nextRun time.Time) error {
	result, err := s.db.Exec(
		`UPDATE schedules SET last_run_at = ?, next_run_at = ?, updated_at = ? WHERE id = ?`,
		lastRun, nextRun, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update run times: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// Delete removes a schedule and its launch history.
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrScheduleNotFound
	}
	_, _ = s.db.Exec(`DELETE FROM launches WHERE schedule_id = ?`, id)
	return nil
}

// RecordLaunch stores the outcome of one firing.
func (s *Store) RecordLaunch(launch *Launch) error {
	if launch.ID == "" {
		launch.ID = "launch_" + uuid.New().String()[:8]
	}
	if launch.ExecutedAt.IsZero() {
		launch.ExecutedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO launches (id, schedule_id, run_id, executed_at, status, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		launch.ID, launch.ScheduleID, launch.RunID, launch.ExecutedAt, launch.Status, launch.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record launch: %w", err)
	}
	return nil
}

// ListLaunches returns the most recent launches for a schedule.
func (s *Store) ListLaunches(scheduleID string, limit int) ([]*Launch, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, schedule_id, run_id, executed_at, status, error
		FROM launches WHERE schedule_id = ?
		ORDER BY executed_at DESC LIMIT ?`, scheduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list launches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var launches []*Launch
	for rows.Next() {
		var launch Launch
		var runID, errMsg sql.NullString
		if err := rows.Scan(&launch.ID, &launch.ScheduleID, &runID, &launch.ExecutedAt, &launch.Status, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan launch: %w", err)
		}
		launch.RunID = runID.String
		launch.Error = errMsg.String
		launches = append(launches, &launch)
	}
	return launches, rows.Err()
}
