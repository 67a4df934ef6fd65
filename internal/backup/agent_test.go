package backup

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"dbaas-backup-agent/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRecordStore remembers the state of every saved record
type countingRecordStore struct {
	*MemoryRecordStore
	mu    sync.Mutex
	saved []BackupState
}

func (c *countingRecordStore) Save(ctx context.Context, record *BackupRecord) error {
	c.mu.Lock()
	c.saved = append(c.saved, record.State)
	c.mu.Unlock()
	return c.MemoryRecordStore.Save(ctx, record)
}

func (c *countingRecordStore) count(state BackupState) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.saved {
		if s == state {
			n++
		}
	}
	return n
}

type agentFixture struct {
	agent    *Agent
	records  *countingRecordStore
	store    *MemoryObjectStore
	registry *Registry
	config   *AgentConfig
}

func newAgentFixture(t *testing.T, backupCommand, restoreCommand string) *agentFixture {
	t.Helper()

	config := GenerateDefaultConfig()
	config.ChunkSize = 16
	config.SegmentMaxSize = 48
	config.RestoreLocation = t.TempDir()
	config.Strategies.BackupStrategy = "test"
	config.Strategies.StorageStrategy = string(StorageProviderMemory)

	registry := NewDefaultRegistry(NamespacesFromConfig(config.Strategies))
	registry.RegisterBackup(StrategyKey{Namespace: config.Strategies.BackupNamespace, Name: "test"}, BackupType{
		Name:           "test",
		Command:        backupCommand,
		ManifestSuffix: ".raw",
	})
	registry.RegisterRestore(StrategyKey{Namespace: config.Strategies.RestoreNamespace, Name: "test"}, RestoreType{
		Name:    "test",
		Command: restoreCommand,
	})

	store := NewMemoryObjectStore("")
	registry.RegisterStorage(StrategyKey{Namespace: config.Strategies.StorageNamespace, Name: "memory"}, NewObjectStoreFactory(store))

	records := &countingRecordStore{MemoryRecordStore: NewMemoryRecordStore()}
	logger, err := NewBackupLogger(BackupLoggerConfig{Logger: logging.NewNopLogger()})
	require.NoError(t, err)

	agent, err := NewAgent(config, registry, records, logger)
	require.NoError(t, err)

	return &agentFixture{agent: agent, records: records, store: store, registry: registry, config: config}
}

func TestNewAgent_RequiresDependencies(t *testing.T) {
	config := GenerateDefaultConfig()
	registry := NewRegistry()
	records := NewMemoryRecordStore()

	_, err := NewAgent(nil, registry, records, nil)
	assert.Error(t, err)
	_, err = NewAgent(config, nil, records, nil)
	assert.Error(t, err)
	_, err = NewAgent(config, registry, nil, nil)
	assert.Error(t, err)

	agent, err := NewAgent(config, registry, records, nil)
	require.NoError(t, err)
	assert.NotNil(t, agent)
}

func TestAgent_ExecuteBackup(t *testing.T) {
	ctx := context.Background()
	f := newAgentFixture(t, "printf '"+testPayload+"'", "cat > ${restore_location}/restored")

	record, err := f.agent.CreateRecord(ctx, "inst-1", "nightly", "")
	require.NoError(t, err)
	assert.Equal(t, BackupStateNew, record.State)

	completed, err := f.agent.ExecuteBackup(ctx, record.ID)
	require.NoError(t, err)

	assert.Equal(t, BackupStateCompleted, completed.State)
	assert.Equal(t, CalculateMD5Checksum([]byte(testPayload)), completed.Checksum)
	assert.Equal(t, "memory://localhost/"+DefaultContainer+"/"+record.ID+".raw", completed.Location)
	assert.Equal(t, "test", completed.BackupType)

	stored, err := f.agent.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, completed, stored)
	assert.Equal(t, []BackupState{BackupStateNew, BackupStateBuilding, BackupStateCompleted}, f.records.saved)

	keys, err := f.store.ListObjects(ctx, DefaultContainer, record.ID+"_")
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestAgent_ExecuteBackup_RecordNotFound(t *testing.T) {
	f := newAgentFixture(t, "printf abc", "cat")

	_, err := f.agent.ExecuteBackup(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsRecordNotFound(err))
	assert.Empty(t, f.records.saved)
}

func TestAgent_ExecuteBackup_InvalidTransition(t *testing.T) {
	ctx := context.Background()
	f := newAgentFixture(t, "printf abc", "cat")

	record, err := f.agent.CreateRecord(ctx, "inst-1", "n", "")
	require.NoError(t, err)
	_, err = f.agent.ExecuteBackup(ctx, record.ID)
	require.NoError(t, err)
	writes := len(f.records.saved)

	_, err = f.agent.ExecuteBackup(ctx, record.ID)
	require.Error(t, err)
	assert.True(t, IsInvalidState(err))
	assert.Len(t, f.records.saved, writes, "no write after a rejected transition")
}

func TestAgent_ExecuteBackup_Failures(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		setup    func(f *agentFixture)
		wantType BackupErrorType
		wantNote string
	}{
		{
			name:     "non-zero exit",
			command:  "printf abc; exit 1",
			wantType: BackupErrorTypeProcess,
		},
		{
			name:     "diagnostic output",
			command:  "echo 'mysqldump: Got error' >&2; printf abc",
			wantType: BackupErrorTypeDiagnosticOutput,
			wantNote: "mysqldump: Got error",
		},
		{
			name:     "missing template parameter",
			command:  "dump ${socket}",
			wantType: BackupErrorTypeValidation,
		},
		{
			name:    "unknown backup strategy",
			command: "printf abc",
			setup: func(f *agentFixture) {
				f.config.Strategies.BackupStrategy = "pg_dump"
			},
			wantType: BackupErrorTypeUnknownStrategy,
		},
		{
			name:    "integrity mismatch",
			command: "printf '" + testPayload + "'",
			setup: func(f *agentFixture) {
				f.store.SetETagHook(func(key, etag string) string { return "ffffffffffffffffffffffffffffffff" })
			},
			wantType: BackupErrorTypeIntegrity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newAgentFixture(t, tt.command, "cat")
			if tt.setup != nil {
				tt.setup(f)
			}

			record, err := f.agent.CreateRecord(ctx, "inst-1", "n", "")
			require.NoError(t, err)

			_, err = f.agent.ExecuteBackup(ctx, record.ID)
			require.Error(t, err)
			assert.Equal(t, tt.wantType, ErrorType(err))

			stored, err := f.agent.GetRecord(ctx, record.ID)
			require.NoError(t, err)
			assert.Equal(t, BackupStateFailed, stored.State)
			assert.Contains(t, stored.Note, string(tt.wantType))
			assert.Contains(t, stored.Note, tt.wantNote)
			assert.Empty(t, stored.Location)
			assert.Equal(t, 1, f.records.count(BackupStateFailed), "exactly one FAILED write")
			assert.Equal(t, 0, f.records.count(BackupStateCompleted))
		})
	}
}

func TestAgent_ExecuteBackup_CancelledContextStillRecordsFailure(t *testing.T) {
	f := newAgentFixture(t, "printf abc", "cat")

	record, err := f.agent.CreateRecord(context.Background(), "inst-1", "n", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = f.agent.ExecuteBackup(ctx, record.ID)
	require.Error(t, err)

	stored, err := f.agent.GetRecord(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, BackupStateFailed, stored.State)
	assert.Equal(t, 1, f.records.count(BackupStateFailed))
}

func TestAgent_ExecuteRestore(t *testing.T) {
	ctx := context.Background()
	f := newAgentFixture(t, "printf '"+testPayload+"'", "cat > ${restore_location}/restored")

	record, err := f.agent.CreateRecord(ctx, "inst-1", "n", "")
	require.NoError(t, err)
	completed, err := f.agent.ExecuteBackup(ctx, record.ID)
	require.NoError(t, err)
	writes := len(f.records.saved)

	target := t.TempDir()
	restored, err := f.agent.ExecuteRestore(ctx, record.ID, target)
	require.NoError(t, err)
	assert.Equal(t, int64(len(testPayload)), restored)

	data, err := os.ReadFile(filepath.Join(target, "restored"))
	require.NoError(t, err)
	assert.Equal(t, testPayload, string(data))

	after, err := f.agent.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, completed, after, "restore leaves the record untouched")
	assert.Len(t, f.records.saved, writes)
}

func TestAgent_EmptyBackupRestores(t *testing.T) {
	ctx := context.Background()
	f := newAgentFixture(t, "true", "cat > ${restore_location}/restored")

	record, err := f.agent.CreateRecord(ctx, "inst-1", "n", "")
	require.NoError(t, err)

	completed, err := f.agent.ExecuteBackup(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, BackupStateCompleted, completed.State)
	assert.Equal(t, CalculateMD5Checksum(nil), completed.Checksum)

	target := t.TempDir()
	restored, err := f.agent.ExecuteRestore(ctx, record.ID, target)
	require.NoError(t, err)
	assert.Equal(t, int64(0), restored)

	data, err := os.ReadFile(filepath.Join(target, "restored"))
	require.NoError(t, err)
	assert.Empty(t, data)

	size, err := f.agent.VerifyBackup(ctx, record.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestAgent_ExecuteRestore_DefaultLocation(t *testing.T) {
	ctx := context.Background()
	f := newAgentFixture(t, "printf abc", "cat > ${restore_location}/restored")

	record, err := f.agent.CreateRecord(ctx, "inst-1", "n", "")
	require.NoError(t, err)
	_, err = f.agent.ExecuteBackup(ctx, record.ID)
	require.NoError(t, err)

	_, err = f.agent.ExecuteRestore(ctx, record.ID, "")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(f.config.RestoreLocation, "restored"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestAgent_ExecuteRestore_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("record not found", func(t *testing.T) {
		f := newAgentFixture(t, "printf abc", "cat")
		_, err := f.agent.ExecuteRestore(ctx, "missing", "")
		assert.True(t, IsRecordNotFound(err))
	})

	t.Run("no location", func(t *testing.T) {
		f := newAgentFixture(t, "printf abc", "cat")
		record, err := f.agent.CreateRecord(ctx, "inst-1", "n", "")
		require.NoError(t, err)

		_, err = f.agent.ExecuteRestore(ctx, record.ID, "")
		assert.Equal(t, BackupErrorTypeValidation, ErrorType(err))
	})

	t.Run("unknown restore type", func(t *testing.T) {
		f := newAgentFixture(t, "printf abc", "cat")
		record := NewBackupRecord("inst-1", "n", "")
		require.NoError(t, record.Transition(BackupStateBuilding))
		require.NoError(t, record.Complete("abc", "memory://localhost/c/m.gz", "pg_dump"))
		require.NoError(t, f.records.Save(ctx, record))

		_, err := f.agent.ExecuteRestore(ctx, record.ID, "")
		assert.True(t, IsUnknownStrategy(err))
	})

	t.Run("segments missing", func(t *testing.T) {
		f := newAgentFixture(t, "printf abc", "cat")
		record := NewBackupRecord("inst-1", "n", "")
		require.NoError(t, record.Transition(BackupStateBuilding))
		require.NoError(t, record.Complete("abc", "memory://localhost/c/m.raw", "test"))
		require.NoError(t, f.records.Save(ctx, record))

		_, err := f.agent.ExecuteRestore(ctx, record.ID, "")
		assert.True(t, IsNotFound(err))
	})

	t.Run("storage endpoint changed", func(t *testing.T) {
		f := newAgentFixture(t, "printf abc", "cat > /dev/null")
		record, err := f.agent.CreateRecord(ctx, "inst-1", "n", "")
		require.NoError(t, err)
		completed, err := f.agent.ExecuteBackup(ctx, record.ID)
		require.NoError(t, err)

		moved := completed.Clone()
		moved.Location = "memory://old-region/" + DefaultContainer + "/" + record.ID + ".raw"
		require.NoError(t, f.records.Save(ctx, moved))

		_, err = f.agent.ExecuteRestore(ctx, record.ID, "")
		require.Error(t, err)
		assert.Equal(t, BackupErrorTypeConfiguration, ErrorType(err))

		_, err = f.agent.VerifyBackup(ctx, record.ID, nil)
		assert.Equal(t, BackupErrorTypeConfiguration, ErrorType(err))
	})

	t.Run("restore command fails", func(t *testing.T) {
		f := newAgentFixture(t, "printf abc", "cat > /dev/null; exit 4")
		record, err := f.agent.CreateRecord(ctx, "inst-1", "n", "")
		require.NoError(t, err)
		_, err = f.agent.ExecuteBackup(ctx, record.ID)
		require.NoError(t, err)

		_, err = f.agent.ExecuteRestore(ctx, record.ID, "")
		assert.Equal(t, BackupErrorTypeRestore, ErrorType(err))

		stored, err := f.agent.GetRecord(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, BackupStateCompleted, stored.State)
	})
}

func TestAgent_VerifyBackup(t *testing.T) {
	ctx := context.Background()
	f := newAgentFixture(t, "printf '"+testPayload+"'", "cat")

	record, err := f.agent.CreateRecord(ctx, "inst-1", "n", "")
	require.NoError(t, err)

	_, err = f.agent.VerifyBackup(ctx, record.ID, nil)
	assert.Equal(t, BackupErrorTypeValidation, ErrorType(err), "NEW records cannot be verified")

	_, err = f.agent.ExecuteBackup(ctx, record.ID)
	require.NoError(t, err)

	display := &recordingDisplay{}
	size, err := f.agent.VerifyBackup(ctx, record.ID, display)
	require.NoError(t, err)
	assert.Equal(t, int64(len(testPayload)), size)
	assert.NotEmpty(t, display.infos)
	assert.Empty(t, display.errors)

	corrupt := []byte("X" + testPayload[1:48])
	_, err = f.store.PutObject(ctx, DefaultContainer, record.ID+"_00000000", bytes.NewReader(corrupt), int64(len(corrupt)), nil)
	require.NoError(t, err)

	_, err = f.agent.VerifyBackup(ctx, record.ID, display)
	require.Error(t, err)
	assert.True(t, IsIntegrityMismatch(err))
	assert.NotEmpty(t, display.errors)
}

func TestAgent_ListRecords(t *testing.T) {
	ctx := context.Background()
	f := newAgentFixture(t, "printf abc", "cat")

	_, err := f.agent.CreateRecord(ctx, "inst-1", "a", "")
	require.NoError(t, err)
	_, err = f.agent.CreateRecord(ctx, "inst-2", "b", "")
	require.NoError(t, err)

	inst1, err := f.agent.ListRecords(ctx, "inst-1")
	require.NoError(t, err)
	assert.Len(t, inst1, 1)

	all, err := f.agent.ListRecords(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

type recordingDisplay struct {
	infos  []string
	errors []string
}

func (d *recordingDisplay) Info(message string)  { d.infos = append(d.infos, message) }
func (d *recordingDisplay) Error(message string) { d.errors = append(d.errors, message) }
