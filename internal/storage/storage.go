package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

// JSONStorage keeps the ledger in a single JSON file rewritten atomically on every save.
type JSONStorage struct {
	mu        sync.RWMutex
	filepath  string
	positions map[string]models.Position
	closed    bool
}

type ledgerFile struct {
	Positions   []models.Position `json:"positions"`
	LastUpdated time.Time         `json:"last_updated"`
}

// NewJSONStorage opens the ledger file, creating its directory if needed.
// A missing file is an empty ledger.
func NewJSONStorage(path string) (*JSONStorage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory %s: %w", dir, err)
		}
	}
	s := &JSONStorage{
		filepath:  path,
		positions: make(map[string]models.Position),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("loading storage: %w", err)
	}
	return s, nil
}

func (s *JSONStorage) load() error {
	data, err := os.ReadFile(s.filepath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file ledgerFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptLedger, err)
	}
	for i := range file.Positions {
		p := file.Positions[i]
		if err := restorePosition(&p); err != nil {
			return err
		}
		s.positions[p.ID] = p
	}
	return nil
}

// LoadPositions returns copies of every persisted position ordered by creation time.
func (s *JSONStorage) LoadPositions() ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return sortedCopies(s.positions), nil
}

// SavePosition upserts the position and rewrites the file. On a write failure the
// in-memory copy is restored so the store keeps matching the file.
func (s *JSONStorage) SavePosition(pos *models.Position) error {
	if pos == nil || pos.ID == "" {
		return fmt.Errorf("position must have an ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	prev, existed := s.positions[pos.ID]
	s.positions[pos.ID] = pos.Copy()
	if err := s.writeLocked(); err != nil {
		if existed {
			s.positions[pos.ID] = prev
		} else {
			delete(s.positions, pos.ID)
		}
		return err
	}
	return nil
}

func (s *JSONStorage) writeLocked() error {
	file := ledgerFile{
		Positions:   sortedCopies(s.positions),
		LastUpdated: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}

	tmpFile := s.filepath + ".tmp"
	if err := writeSynced(tmpFile, data); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("writing ledger: %w", err)
	}
	if err := os.Rename(tmpFile, s.filepath); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("replacing ledger: %w", err)
	}
	if err := syncDir(filepath.Dir(s.filepath)); err != nil {
		return fmt.Errorf("syncing ledger directory: %w", err)
	}
	return nil
}

// writeSynced writes data to path and flushes it to stable storage before closing.
func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// syncDir makes a rename inside dir durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}

// Close marks the store closed. Nothing is buffered, so there is nothing to flush.
func (s *JSONStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func sortedCopies(m map[string]models.Position) []models.Position {
	out := make([]models.Position, 0, len(m))
	for _, p := range m {
		out = append(out, p.Copy())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
