package storage

import (
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for conversion runs.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversion_runs (
            id TEXT PRIMARY KEY,
            acquisition TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            output_path TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_class TEXT,
            error_message TEXT,
            timepoints INTEGER,
            rois INTEGER,
            channels INTEGER
        );`,
		`CREATE INDEX IF NOT EXISTS idx_conversion_runs_acquisition ON conversion_runs(acquisition);`,
		`CREATE INDEX IF NOT EXISTS idx_conversion_runs_status ON conversion_runs(status);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// RunRecord captures one persisted conversion run.
type RunRecord struct {
	ID          string
	Acquisition string
	Status      string
	InputPath   string
	OutputPath  string
	ErrorClass  string
	Error       string
	Timepoints  int
	ROIs        int
	Channels    int
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// RecordRunQueued inserts a pending run.
func (s *Store) RecordRunQueued(rec RunRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO conversion_runs (id, acquisition, status, input_path, output_path) VALUES (?, ?, ?, ?, ?);`,
		rec.ID, rec.Acquisition, rec.Status, rec.InputPath, rec.OutputPath)
	return err
}

// RecordRunStart marks a run as running.
func (s *Store) RecordRunStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE conversion_runs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordRunResult finalizes a run. errClass is empty on success.
func (s *Store) RecordRunResult(id, status, outputPath, errClass, errMsg string, timepoints, rois, channels int) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE conversion_runs SET status=?, completed_at=CURRENT_TIMESTAMP, output_path=?, error_class=?, error_message=?, timepoints=?, rois=?, channels=? WHERE id=?;`,
		status, outputPath, errClass, errMsg, timepoints, rois, channels, id)
	return err
}

// RecentRuns returns the latest runs up to limit.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, acquisition, status, input_path, output_path, created_at, started_at, completed_at, error_class, error_message, timepoints, rois, channels FROM conversion_runs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RunByID fetches one run.
func (s *Store) RunByID(id string) (RunRecord, error) {
	if s == nil {
		return RunRecord{}, errors.New("store not initialized")
	}
	row := s.DB.QueryRow(`SELECT id, acquisition, status, input_path, output_path, created_at, started_at, completed_at, error_class, error_message, timepoints, rois, channels FROM conversion_runs WHERE id=?;`, id)
	return scanRun(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var rec RunRecord
	var created time.Time
	var started, completed sql.NullTime
	var errClass, errMsg sql.NullString
	var timepoints, rois, channels sql.NullInt64
	if err := row.Scan(&rec.ID, &rec.Acquisition, &rec.Status, &rec.InputPath, &rec.OutputPath,
		&created, &started, &completed, &errClass, &errMsg, &timepoints, &rois, &channels); err != nil {
		return RunRecord{}, err
	}
	rec.CreatedAt = created
	if started.Valid {
		rec.StartedAt = &started.Time
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	if errClass.Valid {
		rec.ErrorClass = errClass.String
	}
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	rec.Timepoints = int(timepoints.Int64)
	rec.ROIs = int(rois.Int64)
	rec.Channels = int(channels.Int64)
	return rec, nil
}
