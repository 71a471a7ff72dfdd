package database

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB implements the Database interface using SQLite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database instance
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %v", err)
	}
	// Whole-record writes from many job tasks; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	// Create tables if they don't exist
	err = initTables(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %v", err)
	}

	return &SQLiteDB{db: db}, nil
}

// initTables creates the necessary tables if they don't exist
func initTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			camera TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			progress_phase TEXT NOT NULL DEFAULT 'pending',
			progress_percent REAL NOT NULL DEFAULT 0,
			progress_message TEXT NOT NULL DEFAULT '',
			arguments TEXT NOT NULL DEFAULT '{}',
			output_file TEXT,
			error_message TEXT,
			log_file TEXT,
			pid INTEGER
		)
	`)
	if err != nil {
		return err
	}

	// archive_url arrived after the first schema; add it to older databases
	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('jobs') WHERE name='archive_url'`).Scan(&count)
	if err != nil {
		return err
	}
	if count == 0 {
		if _, err = db.Exec(`ALTER TABLE jobs ADD COLUMN archive_url TEXT`); err != nil {
			return err
		}
		log.Println("Added archive_url column to jobs table")
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs (created_at)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS presets (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			camera TEXT,
			arguments TEXT NOT NULL DEFAULT '{}',
			schedule TEXT,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

const jobColumns = `
	id, kind, status, camera, created_at, started_at, completed_at,
	progress_phase, progress_percent, progress_message, arguments,
	output_file, error_message, log_file, pid, archive_url`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var startedAt, completedAt sql.NullTime
	var arguments string
	var outputFile, errorMessage, logFile, archiveURL sql.NullString
	var pid sql.NullInt64

	err := row.Scan(
		&job.ID,
		&job.Kind,
		&job.Status,
		&job.Camera,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&job.Progress.Phase,
		&job.Progress.Percent,
		&job.Progress.Message,
		&arguments,
		&outputFile,
		&errorMessage,
		&logFile,
		&pid,
		&archiveURL,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	job.Arguments = []byte(arguments)
	job.OutputFile = outputFile.String
	job.Error = errorMessage.String
	job.LogFile = logFile.String
	job.PID = int(pid.Int64)
	job.ArchiveURL = archiveURL.String
	return &job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

func argumentsText(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

// CreateJob inserts a new job record into the database
func (s *SQLiteDB) CreateJob(job Job) error {
	_, err := s.db.Exec(`
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.Kind,
		job.Status,
		job.Camera,
		job.CreatedAt,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		job.Progress.Phase,
		job.Progress.Percent,
		job.Progress.Message,
		argumentsText(job.Arguments),
		nullString(job.OutputFile),
		nullString(job.Error),
		nullString(job.LogFile),
		nullInt(job.PID),
		nullString(job.ArchiveURL),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %v", err)
	}
	return nil
}

// GetJob retrieves a job by its ID. Returns nil, nil when it does not exist.
func (s *SQLiteDB) GetJob(id string) (*Job, error) {
	job, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %v", err)
	}
	return job, nil
}

// SaveJob overwrites every mutable column of an existing job
func (s *SQLiteDB) SaveJob(job Job) error {
	result, err := s.db.Exec(`
		UPDATE jobs SET
			kind = ?, status = ?, camera = ?, started_at = ?, completed_at = ?,
			progress_phase = ?, progress_percent = ?, progress_message = ?,
			arguments = ?, output_file = ?, error_message = ?, log_file = ?, pid = ?,
			archive_url = ?
		WHERE id = ?
	`,
		job.Kind,
		job.Status,
		job.Camera,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		job.Progress.Phase,
		job.Progress.Percent,
		job.Progress.Message,
		argumentsText(job.Arguments),
		nullString(job.OutputFile),
		nullString(job.Error),
		nullString(job.LogFile),
		nullInt(job.PID),
		nullString(job.ArchiveURL),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %v", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to save job: %s does not exist", job.ID)
	}
	return nil
}

// ListJobs returns jobs newest first, narrowed by the filter
func (s *SQLiteDB) ListJobs(filter JobFilter) ([]Job, error) {
	var where []string
	var args []interface{}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Camera != "" {
		where = append(where, "camera = ?")
		args = append(args, filter.Camera)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %v", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %v", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %v", err)
	}
	return jobs, nil
}

// GetJobsByStatus returns every job in the given status, oldest first
func (s *SQLiteDB) GetJobsByStatus(status JobStatus) ([]Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to get jobs by status: %v", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %v", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a job record
func (s *SQLiteDB) DeleteJob(id string) error {
	_, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %v", err)
	}
	return nil
}

// UpdateJobArchiveURL records where a finished output was archived
func (s *SQLiteDB) UpdateJobArchiveURL(id, url string) error {
	_, err := s.db.Exec("UPDATE jobs SET archive_url = ? WHERE id = ?", url, id)
	if err != nil {
		return fmt.Errorf("failed to update job archive url: %v", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
