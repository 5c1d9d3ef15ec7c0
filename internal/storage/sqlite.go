package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const defaultListLimit = 50

const jobColumns = `id, label, batch_id, status, request_json, progress_current, progress_total,
	progress_message, report_json, error, created_at, updated_at`

// Store wraps a SQLite database holding report jobs and ad batches.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "creativemri.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection per Store; the worker opens its own Store.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded migrations that are not yet recorded in schema_version.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		if err := s.applyMigration(version, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(version int, content string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(content); err != nil {
		return fmt.Errorf("applying migration %d: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %d: %w", version, err)
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// --- Jobs ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (Job, error) {
	var j Job
	var createdAt, updatedAt string
	err := r.Scan(&j.ID, &j.Label, &j.BatchID, &j.Status, &j.RequestJSON,
		&j.ProgressCurrent, &j.ProgressTotal, &j.ProgressMessage,
		&j.ReportJSON, &j.Error, &createdAt, &updatedAt)
	if err != nil {
		return Job{}, err
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return j, nil
}

// CreateJob inserts a pending job and returns its ID, generating one when
// job.ID is empty.
func (s *Store) CreateJob(job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	ts := now()
	_, err := s.db.Exec(`
		INSERT INTO report_jobs (id, label, batch_id, status, request_json, progress_total, progress_message, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', ?, ?, 'queued', ?, ?)`,
		job.ID, job.Label, job.BatchID, job.RequestJSON, job.ProgressTotal, ts, ts,
	)
	if err != nil {
		return "", fmt.Errorf("inserting job: %w", err)
	}
	return job.ID, nil
}

// ClaimNextJob moves the oldest pending job to running and returns it, or
// returns nil when the queue is empty.
func (s *Store) ClaimNextJob() (*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	j, err := scanJob(tx.QueryRow(`SELECT ` + jobColumns + ` FROM report_jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC, rowid ASC
		LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	ts := now()
	res, err := tx.Exec(`UPDATE report_jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, ts, j.ID)
	if err != nil {
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = StatusRunning
	j.UpdatedAt, _ = time.Parse(time.RFC3339, ts)
	return &j, nil
}

// UpdateProgress records a progress tick on a running job.
func (s *Store) UpdateProgress(id string, current, total int, message string) error {
	res, err := s.db.Exec(`
		UPDATE report_jobs SET progress_current = ?, progress_total = ?, progress_message = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`,
		current, total, message, now(), id,
	)
	return s.checkMutation(res, err, id)
}

// CompleteJob attaches the finished report and marks the job complete.
func (s *Store) CompleteJob(id, reportJSON string) error {
	res, err := s.db.Exec(`
		UPDATE report_jobs SET status = 'complete', report_json = ?, progress_message = 'done', updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`,
		reportJSON, now(), id,
	)
	return s.checkMutation(res, err, id)
}

// FailJob marks the job failed with errMsg. No report is attached.
func (s *Store) FailJob(id, errMsg string) error {
	res, err := s.db.Exec(`
		UPDATE report_jobs SET status = 'failed', error = ?, report_json = '', updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`,
		errMsg, now(), id,
	)
	return s.checkMutation(res, err, id)
}

// checkMutation turns a zero-row update into ErrNotFound or ErrJobFinished.
func (s *Store) checkMutation(res sql.Result, err error, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRow(`SELECT status FROM report_jobs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status == StatusComplete || status == StatusFailed {
		return ErrJobFinished
	}
	return fmt.Errorf("job %s is %s", id, status)
}

// GetJob returns a job with its request and report.
func (s *Store) GetJob(id string) (Job, error) {
	j, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM report_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// ListJobs returns jobs newest first. The request and report bodies are
// left empty; use GetJob for those.
func (s *Store) ListJobs(f JobFilter) ([]Job, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := sq.Select("id", "label", "batch_id", "status", "''", "progress_current", "progress_total",
		"progress_message", "''", "error", "created_at", "updated_at").
		From("report_jobs").
		OrderBy("created_at DESC", "rowid DESC").
		Limit(uint64(limit))
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building job list query: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, j)
	}
	return results, rows.Err()
}

// FailOrphanedRunning fails every job still marked running. It is called
// once at startup, when no worker can own them.
func (s *Store) FailOrphanedRunning(errMsg string) (int64, error) {
	res, err := s.db.Exec(`UPDATE report_jobs SET status = 'failed', error = ?, updated_at = ? WHERE status = 'running'`, errMsg, now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Batches ---

// CreateBatch stores a batch and returns its ID, generating one when b.ID is empty.
func (s *Store) CreateBatch(b Batch) (string, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	_, err := s.db.Exec(`INSERT INTO batches (id, label, ads_json, ad_count, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.Label, b.AdsJSON, b.AdCount, now(),
	)
	if err != nil {
		return "", fmt.Errorf("inserting batch: %w", err)
	}
	return b.ID, nil
}

// GetBatch returns a stored batch.
func (s *Store) GetBatch(id string) (Batch, error) {
	var b Batch
	var createdAt string
	err := s.db.QueryRow(`SELECT id, label, ads_json, ad_count, created_at FROM batches WHERE id = ?`, id).
		Scan(&b.ID, &b.Label, &b.AdsJSON, &b.AdCount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Batch{}, ErrNotFound
	}
	if err != nil {
		return Batch{}, err
	}
	if b.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Batch{}, fmt.Errorf("parsing created_at for batch %s: %w", b.ID, err)
	}
	return b, nil
}
