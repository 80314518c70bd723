package storage

import (
	"fmt"
	"sync"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

// MockStorage implements Interface in memory for testing
type MockStorage struct {
	mu            sync.Mutex
	saveError     error
	loadError     error
	positions     map[string]models.Position
	saveCallCount int
	loadCallCount int
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{positions: make(map[string]models.Position)}
}

func (m *MockStorage) LoadPositions() ([]models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCallCount++
	if m.loadError != nil {
		return nil, m.loadError
	}
	return sortedCopies(m.positions), nil
}

func (m *MockStorage) SavePosition(pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	if m.saveError != nil {
		return m.saveError
	}
	if pos == nil || pos.ID == "" {
		return fmt.Errorf("position must have an ID")
	}
	m.positions[pos.ID] = pos.Copy()
	return nil
}

func (m *MockStorage) Close() error { return nil }

// Mock control methods for testing
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

func (m *MockStorage) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadError = err
}

func (m *MockStorage) GetSaveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCallCount
}

func (m *MockStorage) GetLoadCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCallCount
}

// Stored returns the persisted copy of a position.
func (m *MockStorage) Stored(id string) (models.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return models.Position{}, false
	}
	return p.Copy(), true
}

// AddPosition seeds the store without counting a save.
func (m *MockStorage) AddPosition(pos models.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.ID] = pos.Copy()
}
