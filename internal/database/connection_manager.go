package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
)

// Connection names used by the agent
const (
	ConnectionRecords = "records"
	ConnectionGuest   = "guest"
)

// ConnectionManager owns the named MySQL connections of the agent
type ConnectionManager struct {
	mu      sync.Mutex
	service DatabaseService
	conns   map[string]*sql.DB
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return NewConnectionManagerWithService(NewService())
}

// NewConnectionManagerWithService creates a new connection manager with a custom service
func NewConnectionManagerWithService(service DatabaseService) *ConnectionManager {
	return &ConnectionManager{
		service: service,
		conns:   make(map[string]*sql.DB),
	}
}

// Connect opens the named connection, replacing any previous one
func (cm *ConnectionManager) Connect(ctx context.Context, name string, config DatabaseConfig) (*sql.DB, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if old, ok := cm.conns[name]; ok {
		cm.service.Close(old)
		delete(cm.conns, name)
	}

	db, err := cm.service.Connect(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", name, err)
	}

	cm.conns[name] = db
	return db, nil
}

// Get returns the named connection, or nil if it is not open
func (cm *ConnectionManager) Get(name string) *sql.DB {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.conns[name]
}

// Service returns the underlying database service
func (cm *ConnectionManager) Service() DatabaseService {
	return cm.service
}

// Close closes every open connection
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	names := make([]string, 0, len(cm.conns))
	for name := range cm.conns {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := cm.service.Close(cm.conns[name]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		delete(cm.conns, name)
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to close database connections: %v", errs)
	}
	return nil
}
