package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // Postgres driver
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver

	"data-harvester/pkg/models"
	"data-harvester/pkg/utils"
)

const (
	// DefaultDBFile is created under the state directory when no database URL is set
	DefaultDBFile = "acquisition.db"

	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS acquisition_metadata (
	run_id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	file_name TEXT NOT NULL,
	depth INTEGER NOT NULL,
	content_type TEXT,
	file_size_kb REAL NOT NULL,
	ai_score REAL,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_acquisition_url ON acquisition_metadata(url);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS acquisition_metadata (
	run_id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL,
	file_name TEXT NOT NULL,
	depth INTEGER NOT NULL,
	content_type TEXT,
	file_size_kb DOUBLE PRECISION NOT NULL,
	ai_score DOUBLE PRECISION,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_acquisition_url ON acquisition_metadata(url);
`

// recordRow mirrors one acquisition_metadata row
type recordRow struct {
	RunID       int64           `db:"run_id"`
	URL         string          `db:"url"`
	FileName    string          `db:"file_name"`
	Depth       int             `db:"depth"`
	ContentType sql.NullString  `db:"content_type"`
	FileSizeKB  float64         `db:"file_size_kb"`
	AIScore     sql.NullFloat64 `db:"ai_score"`
	Timestamp   string          `db:"timestamp"`
}

// SQLRecordStore persists AcquisitionRecords in SQLite or Postgres.
type SQLRecordStore struct {
	db     *sqlx.DB
	driver string
	log    *logrus.Entry
}

// ResolveDSN maps a database URL to a driver name and data source.
// An empty URL selects <stateDir>/acquisition.db.
func ResolveDSN(dbURL, stateDir string) (driver, dsn string, err error) {
	dbURL = strings.TrimSpace(dbURL)
	switch {
	case dbURL == "":
		if stateDir == "" {
			stateDir = "."
		}
		return driverSQLite, filepath.Join(stateDir, DefaultDBFile), nil
	case strings.HasPrefix(dbURL, "sqlite://"):
		path := strings.TrimPrefix(dbURL, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("%w: sqlite URL '%s' has no path", utils.ErrConfigValidation, dbURL)
		}
		return driverSQLite, path, nil
	case strings.HasPrefix(dbURL, "file:"):
		return driverSQLite, dbURL, nil
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		return driverPostgres, dbURL, nil
	}
	return "", "", fmt.Errorf("%w: unsupported database URL '%s' (want sqlite://, file: or postgres://)", utils.ErrConfigValidation, dbURL)
}

// OpenRecordStore opens (creating if needed) the acquisition database.
func OpenRecordStore(ctx context.Context, dbURL, stateDir string, log *logrus.Entry) (*SQLRecordStore, error) {
	driver, dsn, err := ResolveDSN(dbURL, stateDir)
	if err != nil {
		return nil, err
	}

	schema := postgresSchema
	if driver == driverSQLite {
		schema = sqliteSchema
		if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
				return nil, fmt.Errorf("%w: create database directory: %w", utils.ErrFilesystem, err)
			}
			dsn += "?mode=rwc"
		}
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s database: %w", utils.ErrDatabase, driver, err)
	}

	if driver == driverSQLite {
		// SQLite only supports one writer
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(time.Hour)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: enable WAL mode: %w", utils.ErrDatabase, err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s database: %w", utils.ErrDatabase, driver, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: create tables: %w", utils.ErrDatabase, err)
	}

	log.WithField("driver", driver).Debug("Acquisition database ready")
	return &SQLRecordStore{db: db, driver: driver, log: log}, nil
}

// Driver returns the database/sql driver name in use
func (s *SQLRecordStore) Driver() string { return s.driver }

// Record implements RecordSink
func (s *SQLRecordStore) Record(ctx context.Context, rec models.AcquisitionRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var contentType sql.NullString
	if rec.ContentType != "" {
		contentType = sql.NullString{String: rec.ContentType, Valid: true}
	}
	var aiScore sql.NullFloat64
	if rec.AIScore != nil {
		aiScore = sql.NullFloat64{Float64: *rec.AIScore, Valid: true}
	}

	query := s.db.Rebind(`INSERT INTO acquisition_metadata
		(url, file_name, depth, content_type, file_size_kb, ai_score, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		rec.URL, rec.FileName, rec.Depth, contentType, rec.FileSizeKB, aiScore,
		ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: insert acquisition record for '%s': %w", utils.ErrDatabase, rec.URL, err)
	}
	return nil
}

// Latest implements RecordStore. A non-positive limit returns nothing.
func (s *SQLRecordStore) Latest(ctx context.Context, limit int) ([]models.AcquisitionRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := s.db.Rebind(`SELECT run_id, url, file_name, depth, content_type, file_size_kb, ai_score, timestamp
		FROM acquisition_metadata ORDER BY run_id DESC LIMIT ?`)

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("%w: query acquisition records: %w", utils.ErrDatabase, err)
	}

	records := make([]models.AcquisitionRecord, 0, len(rows))
	for _, row := range rows {
		rec := models.AcquisitionRecord{
			ID:          row.RunID,
			URL:         row.URL,
			FileName:    row.FileName,
			Depth:       row.Depth,
			ContentType: row.ContentType.String,
			FileSizeKB:  row.FileSizeKB,
		}
		if row.AIScore.Valid {
			score := row.AIScore.Float64
			rec.AIScore = &score
		}
		if ts, err := time.Parse(time.RFC3339Nano, row.Timestamp); err == nil {
			rec.Timestamp = ts
		} else {
			s.log.Debugf("Unparseable timestamp %q for record %d", row.Timestamp, row.RunID)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Clear implements RecordStore
func (s *SQLRecordStore) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM acquisition_metadata")
	if err != nil {
		return 0, fmt.Errorf("%w: clear acquisition records: %w", utils.ErrDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Close implements RecordStore
func (s *SQLRecordStore) Close() error {
	return s.db.Close()
}
