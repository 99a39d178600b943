package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// pipeDrainDelay bounds how long Wait keeps reading stdout after a process has
// exited. A daemonizing child may inherit the pipe and never close it.
const pipeDrainDelay = 2 * time.Second

// Command is one argv vector
type Command struct {
	Name string
	Args []string
}

// Result of a pipeline. ExitCode is the first non-zero exit status across stages.
type Result struct {
	Stdout   []byte
	ExitCode int
}

// Runner executes a pipeline where every stage's stdout feeds the next stage's stdin.
// Only the last stage's stdout is captured, stderr of every stage is discarded.
type Runner interface {
	Run(ctx context.Context, stages ...Command) (Result, error)
}

// SpawnError means a stage could not be started at all
type SpawnError struct {
	Command Command
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Command.Name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ErrTimeout is returned when the per-command timeout expired
var ErrTimeout = errors.New("command timed out")

// ProcessRunner runs pipelines as real processes
type ProcessRunner struct {
	Timeout time.Duration // 0 waits forever
	Dir     string
}

func NewProcessRunner(timeout time.Duration, dir string) *ProcessRunner {
	return &ProcessRunner{Timeout: timeout, Dir: dir}
}

func (r *ProcessRunner) Run(ctx context.Context, stages ...Command) (Result, error) {
	if len(stages) == 0 {
		return Result{}, errors.New("empty pipeline")
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmds := make([]*exec.Cmd, len(stages))
	for i, st := range stages {
		cmd := exec.CommandContext(ctx, st.Name, st.Args...)
		cmd.Dir = r.Dir
		cmd.Stderr = nil
		cmd.WaitDelay = pipeDrainDelay
		cmds[i] = cmd
	}

	// wire stage i stdout to stage i+1 stdin
	var pipeEnds []*os.File
	closePipes := func() {
		for _, f := range pipeEnds {
			f.Close()
		}
		pipeEnds = nil
	}
	for i := 0; i < len(cmds)-1; i++ {
		pr, pw, err := os.Pipe()
		if err != nil {
			closePipes()
			return Result{}, fmt.Errorf("failed to create pipe: %w", err)
		}
		cmds[i].Stdout = pw
		cmds[i+1].Stdin = pr
		pipeEnds = append(pipeEnds, pr, pw)
	}

	var stdout bytes.Buffer
	cmds[len(cmds)-1].Stdout = &stdout

	started := 0
	for i, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			closePipes()
			for _, c := range cmds[:started] {
				c.Process.Kill()
				c.Wait()
			}
			return Result{}, &SpawnError{Command: stages[i], Err: err}
		}
		started++
	}
	// children hold their own copies now
	closePipes()

	res := Result{}
	var waitErr error
	for _, cmd := range cmds {
		err := cmd.Wait()
		if err == nil || errors.Is(err, exec.ErrWaitDelay) {
			continue
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if res.ExitCode == 0 {
				res.ExitCode = exitErr.ExitCode()
			}
			continue
		}
		if waitErr == nil {
			waitErr = err
		}
	}
	res.Stdout = stdout.Bytes()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) && r.Timeout > 0 {
		return res, fmt.Errorf("%w after %v", ErrTimeout, r.Timeout)
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if waitErr != nil {
		return res, fmt.Errorf("failed waiting for command: %w", waitErr)
	}
	return res, nil
}

// ValidateExecutable checks that path resolves to something we can run
func ValidateExecutable(path string) error {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return fmt.Errorf("executable %s is not usable: %w", path, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return fmt.Errorf("failed to stat executable %s: %w", resolved, err)
	}
	if info.IsDir() {
		return fmt.Errorf("executable %s is a directory", resolved)
	}
	return nil
}
