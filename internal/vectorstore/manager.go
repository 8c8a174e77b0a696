package vectorstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager opens one Store per tenant on demand and caches the handles.
type Manager struct {
	dir    string
	logger *zap.Logger

	mu     sync.Mutex
	stores map[int64]*Store
}

// NewManager creates the data directory if needed.
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create vector data dir: %w", err)
	}
	return &Manager{dir: dir, logger: logger, stores: make(map[int64]*Store)}, nil
}

func (m *Manager) pathFor(userID int64) string {
	return filepath.Join(m.dir, fmt.Sprintf("vector_store_%d.db", userID))
}

// Get returns the tenant's store, opening it on first use.
func (m *Manager) Get(userID int64) (*Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if store, ok := m.stores[userID]; ok {
		return store, nil
	}
	store, err := Open(m.pathFor(userID), m.logger)
	if err != nil {
		return nil, err
	}
	m.stores[userID] = store
	return store, nil
}

// Clear closes the tenant's store and deletes its file, retrying once
// because SQLite may hold the handle briefly after Close.
func (m *Manager) Clear(userID int64) error {
	m.mu.Lock()
	if store, ok := m.stores[userID]; ok {
		if err := store.Close(); err != nil {
			m.logger.Warn("Vector store close failed", zap.Int64("user_id", userID), zap.Error(err))
		}
		delete(m.stores, userID)
	}
	m.mu.Unlock()

	path := m.pathFor(userID)
	err := removeWithSidecars(path)
	if err != nil && !os.IsNotExist(err) {
		time.Sleep(100 * time.Millisecond)
		err = removeWithSidecars(path)
	}
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete vector store: %w", err)
	}
	m.logger.Info("Vector store cleared", zap.Int64("user_id", userID))
	return nil
}

// removeWithSidecars deletes the database plus its WAL and SHM files.
func removeWithSidecars(path string) error {
	err := os.Remove(path)
	for _, sidecar := range []string{path + "-wal", path + "-shm"} {
		if rmErr := os.Remove(sidecar); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = rmErr
		}
	}
	return err
}

// Close shuts down every open store.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for id, store := range m.stores {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.stores, id)
	}
	return firstErr
}
