package backup

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewBackupRecord creates a record in state NEW with a generated id
func NewBackupRecord(instanceID, name, description string) *BackupRecord {
	now := time.Now().UTC()
	return &BackupRecord{
		ID:          GenerateBackupID(),
		InstanceID:  instanceID,
		Name:        name,
		Description: description,
		State:       BackupStateNew,
		Created:     now,
		Updated:     now,
	}
}

// Validate validates the BackupRecord struct
func (r *BackupRecord) Validate() error {
	var errors ValidationErrors

	if r.ID == "" {
		errors.Add("id", "backup ID is required", r.ID)
	}

	if r.InstanceID == "" {
		errors.Add("instance_id", "instance ID is required", r.InstanceID)
	}

	if !isValidBackupState(r.State) {
		errors.Add("state", "invalid backup state", r.State)
	}

	if (r.Checksum == "") != (r.Location == "") {
		errors.Add("checksum", "checksum and location must be set together", r.Checksum)
	}

	if errors.HasErrors() {
		return errors
	}

	return nil
}

// CanTransition reports whether the record may move to the given state
func (r *BackupRecord) CanTransition(to BackupState) bool {
	switch r.State {
	case BackupStateNew:
		return to == BackupStateBuilding
	case BackupStateBuilding:
		return to == BackupStateCompleted || to == BackupStateFailed
	default:
		return false
	}
}

// Transition moves the record to a new state. A disallowed move leaves the
// record untouched and returns INVALID_STATE.
func (r *BackupRecord) Transition(to BackupState) error {
	if !r.CanTransition(to) {
		return NewInvalidStateError(r.State, to).WithContext("backup_id", r.ID)
	}
	r.State = to
	r.Updated = time.Now().UTC()
	return nil
}

// Complete records the outcome of a successful save and moves the record to
// COMPLETED. Checksum and location are set exactly once.
func (r *BackupRecord) Complete(checksum, location, backupType string) error {
	if checksum == "" || location == "" {
		return NewValidationError("checksum and location are required to complete a backup", nil).
			WithContext("backup_id", r.ID)
	}
	if r.Checksum != "" || r.Location != "" {
		return NewInvalidStateError(r.State, BackupStateCompleted).
			WithContext("backup_id", r.ID).
			WithContext("reason", "checksum and location already set")
	}
	if err := r.Transition(BackupStateCompleted); err != nil {
		return err
	}

	r.Checksum = checksum
	r.Location = location
	r.BackupType = backupType
	return nil
}

// Fail moves the record to FAILED with a note
func (r *BackupRecord) Fail(note string) error {
	if err := r.Transition(BackupStateFailed); err != nil {
		return err
	}
	r.Note = note
	return nil
}

// Clone returns a copy of the record
func (r *BackupRecord) Clone() *BackupRecord {
	c := *r
	return &c
}

// ToJSON serializes the record to JSON
func (r *BackupRecord) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON deserializes JSON data into a record
func (r *BackupRecord) FromJSON(data []byte) error {
	if err := json.Unmarshal(data, r); err != nil {
		return NewValidationError("failed to unmarshal backup record JSON", err)
	}
	return r.Validate()
}

// String renders the location as <endpoint>/<container>/<manifest>
func (l Location) String() string {
	return fmt.Sprintf("%s/%s/%s", l.Endpoint, l.Container, l.Manifest)
}

// ParseLocation splits a location on its last two separators
func ParseLocation(location string) (Location, error) {
	manifestIdx := strings.LastIndex(location, "/")
	if manifestIdx <= 0 || manifestIdx == len(location)-1 {
		return Location{}, NewValidationError(fmt.Sprintf("malformed location %q", location), nil)
	}

	containerIdx := strings.LastIndex(location[:manifestIdx], "/")
	if containerIdx < 0 || containerIdx == manifestIdx-1 {
		return Location{}, NewValidationError(fmt.Sprintf("malformed location %q", location), nil)
	}

	return Location{
		Endpoint:  location[:containerIdx],
		Container: location[containerIdx+1 : manifestIdx],
		Manifest:  location[manifestIdx+1:],
	}, nil
}

// GenerateBackupID generates a unique backup ID
func GenerateBackupID() string {
	return uuid.New().String()
}

// CalculateMD5Checksum returns the lowercase hex MD5 of data
func CalculateMD5Checksum(data []byte) string {
	hash := md5.Sum(data)
	return hex.EncodeToString(hash[:])
}

func isValidBackupState(state BackupState) bool {
	switch state {
	case BackupStateNew, BackupStateBuilding, BackupStateCompleted, BackupStateFailed:
		return true
	default:
		return false
	}
}

func isValidCompressionType(ct CompressionType) bool {
	switch ct {
	case CompressionTypeNone, CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd, CompressionTypeAuto:
		return true
	default:
		return false
	}
}

func isValidRecordDriver(driver RecordDriver) bool {
	switch driver {
	case RecordDriverMemory, RecordDriverMySQL, RecordDriverRedis:
		return true
	default:
		return false
	}
}
