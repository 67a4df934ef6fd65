package backup

// BackupType describes a command that writes a backup stream to stdout
type BackupType struct {
	Name           string
	Command        string
	ManifestSuffix string
}

// RestoreType describes a command that reads a backup stream from stdin,
// plus an optional command run once the stream has been consumed.
type RestoreType struct {
	Name           string
	Command        string
	PrepareCommand string
	Compression    CompressionType
}

// Built-in backup and restore types, keyed by name
var (
	MySQLDumpBackup = BackupType{
		Name:           "mysqldump",
		Command:        "/usr/bin/mysqldump --all-databases --opt --compact -h ${host} --password=${password} -u ${user} | gzip",
		ManifestSuffix: ".gz",
	}

	InnoBackupExBackup = BackupType{
		Name:           "innobackupex",
		Command:        "sudo innobackupex --stream=xbstream ${data_dir} 2>/tmp/innobackupex.log | gzip",
		ManifestSuffix: ".xbstream.gz",
	}

	XtraBackupBackup = BackupType{
		Name:           "xtrabackup",
		Command:        "sudo xtrabackup --backup --stream=tar --target-dir=${data_dir} 2>/tmp/xtrabackup.log | gzip",
		ManifestSuffix: ".tar.gz",
	}

	MySQLDumpRestore = RestoreType{
		Name:        "mysqldump",
		Command:     "mysql --password=${password} -u ${user}",
		Compression: CompressionTypeGzip,
	}

	InnoBackupExRestore = RestoreType{
		Name:           "innobackupex",
		Command:        "sudo xbstream -x -C ${restore_location}",
		PrepareCommand: "sudo innobackupex --apply-log ${restore_location} 2>/tmp/innoprepare.log",
		Compression:    CompressionTypeGzip,
	}

	XtraBackupRestore = RestoreType{
		Name:           "xtrabackup",
		Command:        "sudo tar -x -C ${restore_location}",
		PrepareCommand: "sudo xtrabackup --prepare --target-dir=${restore_location} 2>/tmp/xtraprepare.log",
		Compression:    CompressionTypeGzip,
	}
)

// BuiltinBackupTypes returns the backup types every registry starts with
func BuiltinBackupTypes() []BackupType {
	return []BackupType{MySQLDumpBackup, InnoBackupExBackup, XtraBackupBackup}
}

// BuiltinRestoreTypes returns the restore types every registry starts with
func BuiltinRestoreTypes() []RestoreType {
	return []RestoreType{MySQLDumpRestore, InnoBackupExRestore, XtraBackupRestore}
}

func (c BackupTypeConfig) toBackupType() BackupType {
	return BackupType{
		Name:           c.Name,
		Command:        c.Command,
		ManifestSuffix: c.ManifestSuffix,
	}
}

func (c RestoreTypeConfig) toRestoreType() RestoreType {
	compression := c.Compression
	if compression == "" {
		compression = CompressionTypeNone
	}
	return RestoreType{
		Name:           c.Name,
		Command:        c.Command,
		PrepareCommand: c.PrepareCommand,
		Compression:    compression,
	}
}
