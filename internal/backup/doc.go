// Package backup streams database backups into object storage and back.
//
// A backup runs an external dump command (mysqldump, innobackupex,
// xtrabackup or a configured one) and reads its stdout in fixed-size chunks.
// The stream is cut into segments no larger than the configured maximum.
// Each segment is uploaded and checked against the MD5 the store reports.
// A zero-length manifest written last names the segment prefix.
//
// Restores reverse the path: the manifest is resolved from the record's
// location, its segments are concatenated in order, decompressed and piped
// into the restore command, optionally followed by a prepare command.
//
// Core components:
//
//   - BackupRunner: command stream source with rolling and per-segment MD5
//   - RestoreRunner: command stream sink with gzip, lz4 and zstd support
//   - Registry: backup types, restore types and storage factories by StrategyKey
//   - SegmentedStorage: the segment/manifest protocol over an ObjectStore
//     (local, S3, MinIO, Azure, GCS, memory)
//   - RecordStore: backup records in memory, MySQL or Redis
//   - Agent: drives a record through NEW, BUILDING and COMPLETED or FAILED
//
// Example usage:
//
//	cfg := backup.GenerateDefaultConfig()
//	registry := backup.NewRegistryFromConfig(cfg.Strategies)
//	agent, err := backup.NewAgent(cfg, registry, backup.NewMemoryRecordStore(), nil)
//	if err != nil {
//		return err
//	}
//
//	record, err := agent.CreateRecord(ctx, instanceID, "nightly", "")
//	if err != nil {
//		return err
//	}
//	record, err = agent.ExecuteBackup(ctx, record.ID)
package backup
