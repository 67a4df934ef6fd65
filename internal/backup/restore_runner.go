package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"dbaas-backup-agent/internal/logging"
)

// RestoreOptions controls how a RestoreRunner feeds its command
type RestoreOptions struct {
	ChunkSize int64

	// BackupID labels log entries
	BackupID string
}

// RestoreRunner pipes a downloaded backup stream into a restore command and
// optionally runs a prepare command afterwards.
type RestoreRunner struct {
	restoreType    RestoreType
	command        string
	prepareCommand string
	opts           RestoreOptions
	compression    *CompressionManager
	logger         *logging.Logger
}

// NewRestoreRunner expands the restore type's commands with params
func NewRestoreRunner(restoreType RestoreType, opts RestoreOptions, params map[string]string, logger *logging.Logger) (*RestoreRunner, error) {
	if opts.ChunkSize <= 0 {
		return nil, NewValidationError("restore chunk size must be positive", nil).
			WithContext("chunk_size", opts.ChunkSize)
	}

	command, err := ExpandCommand(restoreType.Command, params)
	if err != nil {
		return nil, err
	}

	var prepare string
	if restoreType.PrepareCommand != "" {
		prepare, err = ExpandCommand(restoreType.PrepareCommand, params)
		if err != nil {
			return nil, err
		}
	}

	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	return &RestoreRunner{
		restoreType:    restoreType,
		command:        command,
		prepareCommand: prepare,
		opts:           opts,
		compression:    NewCompressionManager(),
		logger:         logger,
	}, nil
}

// Run writes the decompressed stream to the restore command and returns the
// number of bytes the command received. stream is closed on every path.
func (r *RestoreRunner) Run(ctx context.Context, stream io.ReadCloser) (int64, error) {
	defer stream.Close()

	reader, err := r.compression.NewReader(stream, r.restoreType.Compression)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	written, err := r.restore(ctx, reader)
	if err != nil {
		return written, err
	}

	if r.prepareCommand != "" {
		if err := r.prepare(ctx); err != nil {
			return written, err
		}
	}

	return written, nil
}

func (r *RestoreRunner) restore(ctx context.Context, reader io.Reader) (int64, error) {
	stderr := &stderrBuffer{}
	cmd := shellCommand(ctx, r.command)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return 0, NewProcessLaunchError("failed to create stdin pipe", err)
	}

	if err := cmd.Start(); err != nil {
		r.logger.LogCommandLaunch("restore", r.command, 0, err)
		return 0, NewProcessLaunchError(fmt.Sprintf("failed to launch %s restore", r.restoreType.Name), err)
	}
	r.logger.LogCommandLaunch("restore", r.command, cmd.Process.Pid, nil)
	defer r.terminate(cmd)

	start := time.Now()
	written, copyErr := r.copyChunks(stdin, reader)
	closeErr := stdin.Close()
	waitErr := cmd.Wait()
	r.logger.LogRestoreTransfer(r.opts.BackupID, written, time.Since(start), firstError(copyErr, waitErr))

	if out := stderr.String(); out != "" {
		return written, NewRestoreError(fmt.Sprintf("%s restore wrote diagnostic output: %s", r.restoreType.Name, stderrExcerpt(out)), nil).
			WithContext("stderr", out)
	}
	if copyErr != nil {
		return written, NewRestoreError("failed to stream backup into restore command", copyErr)
	}
	if closeErr != nil && !errors.Is(closeErr, io.ErrClosedPipe) {
		return written, NewRestoreError("failed to close restore command input", closeErr)
	}
	if waitErr != nil {
		return written, NewRestoreError(fmt.Sprintf("%s restore command failed", r.restoreType.Name), waitErr)
	}
	return written, nil
}

// copyChunks moves ChunkSize reads from src into dst
func (r *RestoreRunner) copyChunks(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, r.opts.ChunkSize)
	var written int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			m, werr := dst.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
		}
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

func (r *RestoreRunner) prepare(ctx context.Context) error {
	stderr := &stderrBuffer{}
	cmd := shellCommand(ctx, r.prepareCommand)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		r.logger.LogCommandLaunch("prepare", r.prepareCommand, 0, err)
		return NewPrepareError(fmt.Sprintf("failed to launch %s prepare", r.restoreType.Name), err)
	}
	r.logger.LogCommandLaunch("prepare", r.prepareCommand, cmd.Process.Pid, nil)
	defer r.terminate(cmd)

	waitErr := cmd.Wait()
	if out := stderr.String(); out != "" {
		return NewPrepareError(fmt.Sprintf("%s prepare wrote diagnostic output: %s", r.restoreType.Name, stderrExcerpt(out)), nil).
			WithContext("stderr", out)
	}
	if waitErr != nil {
		return NewPrepareError(fmt.Sprintf("%s prepare command failed", r.restoreType.Name), waitErr)
	}
	return nil
}

func (r *RestoreRunner) terminate(cmd *exec.Cmd) {
	if err := killProcessGroup(cmd); err != nil {
		r.logger.WithField("error", err.Error()).Debug("Failed to terminate restore command group")
	}
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
