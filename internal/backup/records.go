package backup

import (
	"context"
	"sort"
	"sync"
)

// RecordStore persists backup records. Records are never deleted.
type RecordStore interface {
	Find(ctx context.Context, id string) (*BackupRecord, error)
	Save(ctx context.Context, record *BackupRecord) error

	// List returns the records of an instance, oldest first. An empty
	// instanceID lists every record.
	List(ctx context.Context, instanceID string) ([]*BackupRecord, error)

	Close() error
}

// MemoryRecordStore keeps records in process memory
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]*BackupRecord
}

// NewMemoryRecordStore creates an empty store
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[string]*BackupRecord),
	}
}

func (m *MemoryRecordStore) Find(ctx context.Context, id string) (*BackupRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[id]
	if !ok {
		return nil, NewRecordNotFoundError(id)
	}
	return record.Clone(), nil
}

func (m *MemoryRecordStore) Save(ctx context.Context, record *BackupRecord) error {
	if record == nil {
		return NewValidationError("record cannot be nil", nil)
	}
	if err := record.Validate(); err != nil {
		return NewValidationError("invalid backup record", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[record.ID] = record.Clone()
	return nil
}

func (m *MemoryRecordStore) List(ctx context.Context, instanceID string) ([]*BackupRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []*BackupRecord
	for _, record := range m.records {
		if instanceID == "" || record.InstanceID == instanceID {
			records = append(records, record.Clone())
		}
	}
	sortRecords(records)
	return records, nil
}

func (m *MemoryRecordStore) Close() error {
	return nil
}

// sortRecords orders records by creation time, then id
func sortRecords(records []*BackupRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Created.Equal(records[j].Created) {
			return records[i].Created.Before(records[j].Created)
		}
		return records[i].ID < records[j].ID
	})
}
