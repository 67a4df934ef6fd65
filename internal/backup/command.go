package backup

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
)

// processWaitDelay bounds how long Wait keeps draining pipes after the
// shell exits while a grandchild still holds them open.
const processWaitDelay = 5 * time.Second

// ExpandCommand substitutes ${name} placeholders in a command template.
// "$$" yields a literal "$". Every placeholder must have a parameter.
func ExpandCommand(template string, params map[string]string) (string, error) {
	var missing []string
	expanded := os.Expand(template, func(name string) string {
		if name == "$" {
			return "$"
		}
		value, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return ""
		}
		return value
	})

	if len(missing) > 0 {
		sort.Strings(missing)
		return "", NewValidationError("command template references undefined parameters: "+strings.Join(missing, ", "), nil).
			WithContext("missing", missing)
	}
	return expanded, nil
}

// mergeParams layers the override map on top of base
func mergeParams(base, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// shellCommand builds a /bin/sh -c invocation in its own process group, so
// terminating it also reaches the pipeline members the shell started.
func shellCommand(ctx context.Context, command string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = processWaitDelay
	return cmd
}

// killProcessGroup kills the command's process group. A process that has
// already exited is not an error.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// stderrBuffer collects a child's diagnostic output. exec copies into it
// from its own goroutine.
type stderrBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *stderrBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *stderrBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}
