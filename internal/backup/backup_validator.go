package backup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// verifyBufferSize is the read size used while hashing a stored backup
const verifyBufferSize = 1 << 20

// ValidatorDisplayService receives progress while a backup is verified
type ValidatorDisplayService interface {
	Info(message string)
	Error(message string)
}

// BackupValidator re-reads stored backups and checks them against their records
type BackupValidator struct {
	displayService ValidatorDisplayService
}

// NewBackupValidator creates a validator. displayService may be nil.
func NewBackupValidator(displayService ValidatorDisplayService) *BackupValidator {
	return &BackupValidator{displayService: displayService}
}

// ValidateRecord checks that a record describes a completed, addressable backup
func (v *BackupValidator) ValidateRecord(record *BackupRecord) error {
	if record == nil {
		return NewValidationError("backup record is nil", nil)
	}
	if record.State != BackupStateCompleted {
		return NewValidationError(fmt.Sprintf("backup %s is %s, not %s", record.ID, record.State, BackupStateCompleted), nil)
	}
	if record.Checksum == "" || record.Location == "" {
		return NewValidationError(fmt.Sprintf("backup %s has no checksum or location", record.ID), nil)
	}
	if _, err := ParseLocation(record.Location); err != nil {
		return err
	}
	return nil
}

// ValidateIntegrity downloads every segment of the backup and compares the
// MD5 of the whole stream with the record's checksum. It returns the number
// of bytes read.
func (v *BackupValidator) ValidateIntegrity(ctx context.Context, record *BackupRecord, storage Storage) (int64, error) {
	if err := v.ValidateRecord(record); err != nil {
		return 0, err
	}

	v.info(fmt.Sprintf("Verifying backup %s at %s", record.ID, record.Location))

	stream, err := storage.Load(ctx, record.Location)
	if err != nil {
		v.error(fmt.Sprintf("Cannot open backup %s: %v", record.ID, err))
		return 0, err
	}
	defer stream.Close()

	actual, size, err := v.CalculateChecksum(ctx, stream)
	if err != nil {
		v.error(fmt.Sprintf("Cannot read backup %s: %v", record.ID, err))
		return size, err
	}

	if !v.VerifyChecksum(actual, record.Checksum) {
		v.error(fmt.Sprintf("Backup %s checksum mismatch", record.ID))
		return size, NewIntegrityError(record.ID, record.Checksum, actual)
	}

	v.info(fmt.Sprintf("Backup %s verified: %d bytes, checksum %s", record.ID, size, actual))
	return size, nil
}

// CalculateChecksum returns the hex MD5 and length of r
func (v *BackupValidator) CalculateChecksum(ctx context.Context, r io.Reader) (string, int64, error) {
	h := md5.New()
	buf := make([]byte, verifyBufferSize)
	var size int64

	for {
		if err := ctx.Err(); err != nil {
			return "", size, NewStorageError("verification interrupted", err)
		}

		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			size += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", size, NewStorageError("failed to read backup stream", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// VerifyChecksum compares two hex checksums
func (v *BackupValidator) VerifyChecksum(actual, expected string) bool {
	return strings.EqualFold(actual, expected)
}

func (v *BackupValidator) info(message string) {
	if v.displayService != nil {
		v.displayService.Info(message)
	}
}

func (v *BackupValidator) error(message string) {
	if v.displayService != nil {
		v.displayService.Error(message)
	}
}
