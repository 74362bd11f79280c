package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for merge jobs, burst groups and
// per-frame calibration facts.
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
		`CREATE TABLE IF NOT EXISTS merge_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS burst_groups (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            job_id TEXT,
            base_path TEXT,
            frame_count INTEGER,
            mosaic_period INTEGER,
            white_level INTEGER,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS frame_metadata (
            file_path TEXT PRIMARY KEY,
            job_id TEXT,
            width INTEGER,
            height INTEGER,
            mosaic_period INTEGER,
            white_level INTEGER,
            black_levels_json TEXT,
            exposure_bias INTEGER,
            iso INTEGER,
            iso_exposure_time REAL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_frame_metadata_job_id ON frame_metadata(job_id);`,
		`CREATE INDEX IF NOT EXISTS idx_burst_groups_job_id ON burst_groups(job_id);`,
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

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string
	JobType     string
	Status      string
	InputPath   string
	OutputPath  string
	OptionsJSON string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// BurstGroupRecord captures one ingested burst.
type BurstGroupRecord struct {
	JobID        string
	BasePath     string
	FrameCount   int
	MosaicPeriod int
	WhiteLevel   int
}

// FrameMetadata captures the calibration facts of one burst frame.
type FrameMetadata struct {
	FilePath        string
	JobID           string
	Width           int
	Height          int
	MosaicPeriod    int
	WhiteLevel      int
	BlackLevels     []float64
	ExposureBias    int
	ISO             int
	ISOExposureTime float64
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO merge_jobs (id, job_type, status, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE merge_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE merge_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_type, status, input_path, output_path, options_json, created_at, started_at, completed_at, error_message FROM merge_jobs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var created time.Time
		var started, completed sql.NullTime
		var errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.JobType, &rec.Status, &rec.InputPath, &rec.OutputPath, &rec.OptionsJSON, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// RecordBurstGroup persists an ingested burst.
func (s *Store) RecordBurstGroup(rec BurstGroupRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO burst_groups (job_id, base_path, frame_count, mosaic_period, white_level) VALUES (?, ?, ?, ?, ?);`,
		rec.JobID, rec.BasePath, rec.FrameCount, rec.MosaicPeriod, rec.WhiteLevel)
	return err
}

// RecordFrameMetadata stores the calibration facts of one frame.
func (s *Store) RecordFrameMetadata(meta FrameMetadata) error {
	if s == nil {
		return nil
	}
	levelsJSON, _ := json.Marshal(meta.BlackLevels)
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO frame_metadata (file_path, job_id, width, height, mosaic_period, white_level, black_levels_json, exposure_bias, iso, iso_exposure_time)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		meta.FilePath, meta.JobID, meta.Width, meta.Height, meta.MosaicPeriod, meta.WhiteLevel, string(levelsJSON), meta.ExposureBias, meta.ISO, meta.ISOExposureTime)
	return err
}

// BurstGroups returns the latest ingested bursts up to limit.
func (s *Store) BurstGroups(limit int) ([]BurstGroupRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT job_id, base_path, frame_count, mosaic_period, white_level FROM burst_groups ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []BurstGroupRecord
	for rows.Next() {
		var rec BurstGroupRecord
		if err := rows.Scan(&rec.JobID, &rec.BasePath, &rec.FrameCount, &rec.MosaicPeriod, &rec.WhiteLevel); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
