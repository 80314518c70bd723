package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/eddiefleurent/spread_engine/internal/models"
)

// SQLiteStorage keeps one row per position. The full position is stored as JSON
// next to the columns used for lookups.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the ledger database.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(path), err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database at '%s': %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database at '%s': %w", path, err)
	}

	// One writer keeps upserts serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStorage{db: db}
	if err := s.initializeSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) initializeSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		underlying TEXT NOT NULL,
		strategy TEXT NOT NULL,
		expiration TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at INTEGER NOT NULL, -- unix nanoseconds
		updated_at TIMESTAMP NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_positions_state ON positions (state);
	CREATE INDEX IF NOT EXISTS idx_positions_underlying_state ON positions (underlying, state);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// LoadPositions returns every persisted position ordered by creation time.
func (s *SQLiteStorage) LoadPositions() ([]models.Position, error) {
	rows, err := s.db.Query(`SELECT data FROM positions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		var p models.Position
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptLedger, err)
		}
		if err := restorePosition(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return out, nil
}

// SavePosition upserts the position row.
func (s *SQLiteStorage) SavePosition(pos *models.Position) error {
	if pos == nil || pos.ID == "" {
		return fmt.Errorf("position must have an ID")
	}
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("failed to encode position %s: %w", pos.ID, err)
	}

	const query = `
	INSERT INTO positions (id, underlying, strategy, expiration, state, created_at, updated_at, data)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		state = excluded.state,
		updated_at = excluded.updated_at,
		data = excluded.data`

	_, err = s.db.Exec(query,
		pos.ID, pos.Underlying, pos.Strategy.String(), pos.Expiration.Format("2006-01-02"),
		string(pos.State), pos.CreatedAt.UnixNano(), time.Now().UTC(), string(data))
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", pos.ID, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
