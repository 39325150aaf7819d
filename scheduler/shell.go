package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxCapturedOutput = 1 << 20
	// How long Run waits for output pipes after the process is killed.
	pipeWaitDelay = 2 * time.Second
)

type ShellResult struct {
	ExitCode int
	Output   string
}

// ShellRunner runs an external command and captures its combined output.
// A non-zero exit is reported through ExitCode, not the error.
type ShellRunner interface {
	Run(ctx context.Context, argv []string, timeout time.Duration) (ShellResult, error)
}

// ExecRunner runs commands with os/exec. No shell is involved.
type ExecRunner struct {
	Dir string
	Env []string
}

func (r *ExecRunner) Run(ctx context.Context, argv []string, timeout time.Duration) (ShellResult, error) {
	if len(argv) == 0 {
		return ShellResult{ExitCode: -1}, errors.New("command is empty")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	buf := &limitedBuffer{max: maxCapturedOutput}
	cmd.Stdout = buf
	cmd.Stderr = buf
	// Children started by the command die with it on timeout.
	killProcessGroup(cmd)
	cmd.WaitDelay = pipeWaitDelay

	err := cmd.Run()
	res := ShellResult{Output: buf.String()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return res, fmt.Errorf("timed out after %s", timeout)
		}
		return res, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		res.ExitCode = -1
		return res, err
	}
	return res, nil
}

// limitedBuffer keeps the first max bytes and drops the rest.
type limitedBuffer struct {
	bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}

// outputFiles holds one rotating writer per append-mode output path.
// A lumberjack.Logger keeps a background goroutine for its whole life, so
// writers are reused across runs and closed once.
type outputFiles struct {
	mu      sync.Mutex
	writers map[string]*lumberjack.Logger
}

func (o *outputFiles) write(out Output, data string) error {
	if !out.Append {
		if err := os.MkdirAll(filepath.Dir(out.Path), 0o755); err != nil {
			return err
		}
		return os.WriteFile(out.Path, []byte(data), 0o644)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.writers[out.Path]
	if !ok {
		if o.writers == nil {
			o.writers = make(map[string]*lumberjack.Logger)
		}
		w = &lumberjack.Logger{
			Filename:   out.Path,
			MaxSize:    50,
			MaxBackups: 5,
		}
		o.writers[out.Path] = w
	}
	_, err := w.Write([]byte(data))
	return err
}

func (o *outputFiles) close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var errs []error
	for path, w := range o.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}
