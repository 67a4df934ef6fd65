package backup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os/exec"

	"dbaas-backup-agent/internal/logging"
)

// RunnerOptions controls how a BackupRunner segments its stream
type RunnerOptions struct {
	ChunkSize      int64
	MaxSegmentSize int64
	Container      string
}

// SegmentStream is the view of a backup stream that storage consumes
type SegmentStream interface {
	ReadChunk() ([]byte, error)
	Segment() string
	Prefix() string
	Manifest() string
	Container() string
	ContentLength() int64
	Checksum() string
	SegmentChecksum() string
	EndOfFile() bool
	EndOfSegment() bool
}

// BackupRunner runs a backup command and exposes its stdout as a sequence
// of checksummed segments.
type BackupRunner struct {
	backupType BackupType
	filename   string
	command    string
	opts       RunnerOptions
	logger     *logging.Logger

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *stderrBuffer
	buf    []byte

	fileNumber      int
	contentLength   int64
	segmentLength   int64
	checksum        hash.Hash
	segmentChecksum hash.Hash
	endOfFile       bool
	endOfSegment    bool
	closed          bool
}

// NewBackupRunner expands the backup type's command with params
func NewBackupRunner(backupType BackupType, filename string, opts RunnerOptions, params map[string]string, logger *logging.Logger) (*BackupRunner, error) {
	if filename == "" {
		return nil, NewValidationError("backup filename is required", nil)
	}
	if opts.ChunkSize <= 0 || opts.MaxSegmentSize < opts.ChunkSize {
		return nil, NewValidationError("chunk size must be positive and not exceed the segment max size", nil).
			WithContext("chunk_size", opts.ChunkSize).
			WithContext("segment_max_size", opts.MaxSegmentSize)
	}

	command, err := ExpandCommand(backupType.Command, params)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	return &BackupRunner{
		backupType:      backupType,
		filename:        filename,
		command:         command,
		opts:            opts,
		logger:          logger,
		stderr:          &stderrBuffer{},
		buf:             make([]byte, opts.ChunkSize),
		checksum:        md5.New(),
		segmentChecksum: md5.New(),
	}, nil
}

// Start launches the backup command
func (r *BackupRunner) Start(ctx context.Context) error {
	if r.cmd != nil {
		return NewValidationError("backup runner already started", nil)
	}

	cmd := shellCommand(ctx, r.command)
	cmd.Stderr = r.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return NewProcessLaunchError("failed to create stdout pipe", err)
	}

	if err := cmd.Start(); err != nil {
		r.logger.LogCommandLaunch("backup", r.command, 0, err)
		return NewProcessLaunchError(fmt.Sprintf("failed to launch %s backup", r.backupType.Name), err)
	}

	r.cmd = cmd
	r.stdout = stdout
	r.logger.LogCommandLaunch("backup", r.command, cmd.Process.Pid, nil)
	return nil
}

// ReadChunk returns the next chunk of output. An empty chunk marks either a
// segment boundary (EndOfSegment) or the end of the stream (EndOfFile).
// The returned slice is only valid until the next call.
func (r *BackupRunner) ReadChunk() ([]byte, error) {
	if r.stdout == nil {
		return nil, NewValidationError("backup runner not started", nil)
	}
	if r.endOfFile {
		return nil, nil
	}

	if r.endOfSegment {
		r.segmentLength = 0
		r.segmentChecksum = md5.New()
		r.endOfSegment = false
	}

	if r.segmentLength > r.opts.MaxSegmentSize-r.opts.ChunkSize {
		r.fileNumber++
		r.endOfSegment = true
		return nil, nil
	}

	n, err := io.ReadFull(r.stdout, r.buf)
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, NewProcessError("failed to read backup output", err)
		}
		r.endOfFile = true
		return nil, nil
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, NewProcessError("failed to read backup output", err)
	}

	chunk := r.buf[:n]
	r.checksum.Write(chunk)
	r.segmentChecksum.Write(chunk)
	r.contentLength += int64(n)
	r.segmentLength += int64(n)
	return chunk, nil
}

// Close terminates the command. When the stream was read to the end, the
// command's diagnostic output and exit status decide the result.
func (r *BackupRunner) Close() error {
	if r.cmd == nil || r.closed {
		return nil
	}
	r.closed = true

	if !r.endOfFile {
		if err := killProcessGroup(r.cmd); err != nil {
			r.logger.WithField("error", err.Error()).Warn("Failed to terminate backup command")
		}
		_ = r.cmd.Wait()
		return nil
	}

	waitErr := r.cmd.Wait()
	if err := killProcessGroup(r.cmd); err != nil {
		r.logger.WithField("error", err.Error()).Debug("Failed to terminate backup command group")
	}

	if stderr := r.stderr.String(); stderr != "" {
		return NewDiagnosticOutputError(stderr).WithContext("backup_type", r.backupType.Name)
	}
	if waitErr != nil {
		return NewProcessError(fmt.Sprintf("%s backup command failed", r.backupType.Name), waitErr)
	}
	return nil
}

// Segment returns the object name of the current segment
func (r *BackupRunner) Segment() string {
	return fmt.Sprintf("%s_%08d", r.filename, r.fileNumber)
}

// Prefix returns the container-qualified prefix shared by all segments
func (r *BackupRunner) Prefix() string {
	return fmt.Sprintf("%s/%s_", r.opts.Container, r.filename)
}

// Manifest returns the manifest object name
func (r *BackupRunner) Manifest() string {
	return r.filename + r.backupType.ManifestSuffix
}

func (r *BackupRunner) Container() string    { return r.opts.Container }
func (r *BackupRunner) ContentLength() int64 { return r.contentLength }
func (r *BackupRunner) EndOfFile() bool      { return r.endOfFile }
func (r *BackupRunner) EndOfSegment() bool   { return r.endOfSegment }

// Checksum returns the hex MD5 of everything read so far
func (r *BackupRunner) Checksum() string {
	return hex.EncodeToString(r.checksum.Sum(nil))
}

// SegmentChecksum returns the hex MD5 of the current segment
func (r *BackupRunner) SegmentChecksum() string {
	return hex.EncodeToString(r.segmentChecksum.Sum(nil))
}

// BackupTypeName returns the name of the backup type being run
func (r *BackupRunner) BackupTypeName() string {
	return r.backupType.Name
}
