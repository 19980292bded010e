package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/davidbmar/whisperX-runpod/internal/registry"
	"github.com/davidbmar/whisperX-runpod/internal/types"
)

// ArchiveDB keeps a durable record of terminal jobs. It is write-behind
// telemetry: the in-memory registry stays authoritative for status polling,
// and the archive survives registry sweeps and restarts.
type ArchiveDB struct {
	db *sql.DB
}

// NewArchiveDB opens (and if needed initializes) the archive database.
func NewArchiveDB(dbPath string) (*ArchiveDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL UNIQUE,
		source_type TEXT NOT NULL,
		state TEXT NOT NULL,
		error TEXT,
		segments_count INTEGER,
		speakers_count INTEGER,
		duration_seconds REAL,
		processing_time_seconds REAL,
		local_path TEXT,
		created_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_finished_at ON jobs(finished_at);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &ArchiveDB{db: db}, nil
}

// SaveJob records a terminal job. Non-terminal records are rejected.
func (a *ArchiveDB) SaveJob(rec registry.JobRecord, sourceType, localPath string) error {
	if !rec.State.Terminal() {
		return fmt.Errorf("job %s is not terminal (state %s)", rec.ID, rec.State)
	}

	finished := rec.CompletedAt
	if rec.State == types.StateFailed {
		finished = rec.FailedAt
	}

	var segments, speakers int
	var duration, processing float64
	if rec.Summary != nil {
		segments = rec.Summary.SegmentsCount
		speakers = rec.Summary.SpeakersCount
		duration = rec.Summary.DurationSeconds
		processing = rec.Summary.ProcessingTimeSeconds
	}

	query := `
	INSERT INTO jobs (job_id, source_type, state, error, segments_count, speakers_count,
		duration_seconds, processing_time_seconds, local_path, created_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := a.db.Exec(query, rec.ID, sourceType, string(rec.State), rec.Error,
		segments, speakers, duration, processing, localPath, rec.CreatedAt, finished)
	if err != nil {
		return fmt.Errorf("failed to save job record: %w", err)
	}
	return nil
}

// GetJob retrieves one archived job by id.
func (a *ArchiveDB) GetJob(jobID string) (map[string]interface{}, error) {
	query := `
	SELECT job_id, source_type, state, error, segments_count, speakers_count,
		duration_seconds, processing_time_seconds, local_path, created_at, finished_at
	FROM jobs WHERE job_id = ?
	`

	row := a.db.QueryRow(query, jobID)
	entry, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return entry, nil
}

// ListJobs returns the most recently finished jobs.
func (a *ArchiveDB) ListJobs(limit int) ([]map[string]interface{}, error) {
	query := `
	SELECT job_id, source_type, state, error, segments_count, speakers_count,
		duration_seconds, processing_time_seconds, local_path, created_at, finished_at
	FROM jobs ORDER BY finished_at DESC LIMIT ?
	`

	rows, err := a.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []map[string]interface{}
	for rows.Next() {
		entry, err := scanJob(rows)
		if err != nil {
			continue
		}
		jobs = append(jobs, entry)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (map[string]interface{}, error) {
	var (
		jobID, sourceType, state string
		errText, localPath       sql.NullString
		segments, speakers       int
		duration, processing     float64
		createdAt, finishedAt    sql.NullTime
	)

	if err := row.Scan(&jobID, &sourceType, &state, &errText, &segments, &speakers,
		&duration, &processing, &localPath, &createdAt, &finishedAt); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"job_id":                  jobID,
		"source_type":             sourceType,
		"state":                   state,
		"error":                   errText.String,
		"segments_count":          segments,
		"speakers_count":          speakers,
		"duration_seconds":        duration,
		"processing_time_seconds": processing,
		"local_path":              localPath.String,
		"created_at":              createdAt.Time,
		"finished_at":             finishedAt.Time,
	}, nil
}

// Close closes the database connection.
func (a *ArchiveDB) Close() error {
	return a.db.Close()
}
