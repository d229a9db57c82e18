package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"matrixci/internal/logger"
	"matrixci/internal/storage/models"

	_ "github.com/mattn/go-sqlite3"
)

var db *sql.DB

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// timeFormat stores timestamps with microsecond precision.
const timeFormat = "2006-01-02 15:04:05.000000"

// Init initializes the SQLite database
func Init(dbPath string) error {
	var err error

	// Open the database connection with connection pool settings
	db, err = sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON")
	if err != nil {
		return err
	}

	// Configure connection pool
	// SQLite doesn't support multiple writers, but we can optimize for concurrent reads
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test the connection
	if err = db.Ping(); err != nil {
		return err
	}

	// Create tables if they don't exist
	if err = createTables(); err != nil {
		return err
	}

	logger.Info("Database initialized successfully")
	return nil
}

// createTables creates the necessary database tables
func createTables() error {
	// Runs: one row per triggering event. TRIGGER is a reserved word in
	// SQLite, hence trigger_type.
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		workflow TEXT NOT NULL,
		repo TEXT NOT NULL,
		pr_number INTEGER NOT NULL DEFAULT 0,
		head_sha TEXT NOT NULL DEFAULT '',
		head_ref TEXT NOT NULL DEFAULT '',
		trigger_type TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		finished_at DATETIME
	)
	`)
	if err != nil {
		return err
	}

	// Jobs: one row per environment per run
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		environment TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER,
		output TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at DATETIME,
		finished_at DATETIME
	)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_jobs_run_id ON jobs(run_id)`)
	return err
}

// CreateRun inserts a run and its jobs in one transaction, so a recorded run
// always carries exactly one job row per environment.
func CreateRun(run models.Run) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.Exec(
		`INSERT INTO runs (id, workflow, repo, pr_number, head_sha, head_ref, trigger_type, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Workflow,
		run.Repo,
		run.PRNumber,
		run.HeadSHA,
		run.HeadRef,
		run.Trigger,
		string(run.Status),
		run.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, job := range run.Jobs {
		_, err = tx.Exec(
			`INSERT INTO jobs (id, run_id, environment, status) VALUES (?, ?, ?, ?)`,
			job.ID,
			run.ID,
			job.Environment,
			string(job.Status),
		)
		if err != nil {
			return fmt.Errorf("insert job %s: %w", job.Environment, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}

// MarkRunStarted moves a run to running.
func MarkRunStarted(runID string) error {
	_, err := db.Exec(`UPDATE runs SET status = ? WHERE id = ?`, string(models.StatusRunning), runID)
	return err
}

// MarkRunFinished records a run's terminal status.
func MarkRunFinished(runID string, status models.Status, at time.Time) error {
	_, err := db.Exec(
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		string(status),
		at.Format(timeFormat),
		runID,
	)
	return err
}

// MarkJobStarted moves a job to running.
func MarkJobStarted(jobID string, at time.Time) error {
	_, err := db.Exec(
		`UPDATE jobs SET status = ?, started_at = ? WHERE id = ?`,
		string(models.StatusRunning),
		at.Format(timeFormat),
		jobID,
	)
	return err
}

// MarkJobFinished records a job's terminal status together with its exit
// code and captured output.
func MarkJobFinished(job models.Job) error {
	var exitCode interface{}
	if job.ExitCode != nil {
		exitCode = *job.ExitCode
	}
	var finishedAt interface{}
	if job.FinishedAt != nil {
		finishedAt = job.FinishedAt.Format(timeFormat)
	}

	_, err := db.Exec(
		`UPDATE jobs SET status = ?, exit_code = ?, output = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(job.Status),
		exitCode,
		job.Output,
		job.Error,
		finishedAt,
		job.ID,
	)
	if err != nil {
		logger.Error("Failed to record job result", "error", err, "job_id", job.ID)
		return err
	}

	return nil
}

// GetRun retrieves a run with its jobs. Returns ErrNotFound when no run has
// the given id.
func GetRun(id string) (*models.Run, error) {
	row := db.QueryRow(
		`SELECT id, workflow, repo, pr_number, head_sha, head_ref, trigger_type, status, created_at, finished_at FROM runs WHERE id = ?`,
		id,
	)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	jobs, err := getJobs(run.ID)
	if err != nil {
		return nil, err
	}
	run.Jobs = jobs

	return run, nil
}

// ListRuns retrieves runs with pagination, newest first. Job rows are not
// loaded; use GetRun for a run's jobs and output.
func ListRuns(limit, offset int) ([]models.Run, error) {
	rows, err := db.Query(
		`SELECT id, workflow, repo, pr_number, head_sha, head_ref, trigger_type, status, created_at, finished_at FROM runs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit,
		offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// getJobs retrieves all jobs of a run, in insertion order.
func getJobs(runID string) ([]models.Job, error) {
	rows, err := db.Query(
		`SELECT id, run_id, environment, status, exit_code, output, error, started_at, finished_at FROM jobs WHERE run_id = ? ORDER BY rowid`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var job models.Job
		var exitCode sql.NullInt64
		var startedAt, finishedAt sql.NullString

		if err := rows.Scan(
			&job.ID,
			&job.RunID,
			&job.Environment,
			&job.Status,
			&exitCode,
			&job.Output,
			&job.Error,
			&startedAt,
			&finishedAt,
		); err != nil {
			return nil, err
		}

		if exitCode.Valid {
			code := int(exitCode.Int64)
			job.ExitCode = &code
		}
		if startedAt.Valid {
			t := parseTime(startedAt.String)
			job.StartedAt = &t
		}
		if finishedAt.Valid {
			t := parseTime(finishedAt.String)
			job.FinishedAt = &t
		}

		jobs = append(jobs, job)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return jobs, nil
}

// rowScanner lets scanRun work with both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRun scans one runs row.
func scanRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	var createdAt string
	var finishedAt sql.NullString

	if err := row.Scan(
		&run.ID,
		&run.Workflow,
		&run.Repo,
		&run.PRNumber,
		&run.HeadSHA,
		&run.HeadRef,
		&run.Trigger,
		&run.Status,
		&createdAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}

	run.CreatedAt = parseTime(createdAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		run.FinishedAt = &t
	}

	return &run, nil
}

// parseTime parses a stored timestamp, trying multiple formats for
// compatibility. Falls back to the current time if parsing fails.
func parseTime(s string) time.Time {
	if t, err := time.Parse(timeFormat, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Now()
}

// Ping checks the database connection
func Ping() error {
	if db == nil {
		return errors.New("database not initialized")
	}
	return db.Ping()
}

// Close closes the database connection
func Close() error {
	if db != nil {
		return db.Close()
	}
	return nil
}
