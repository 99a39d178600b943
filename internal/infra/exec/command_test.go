package exec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSingleStage(t *testing.T) {
	r := NewProcessRunner(0, "")
	res, err := r.Run(context.Background(), Command{Name: "echo", Args: []string{"hello"}})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(res.Stdout))
	assert.Equal(t, 0, res.ExitCode)
}

func TestRunPipeline(t *testing.T) {
	r := NewProcessRunner(0, "")
	res, err := r.Run(context.Background(),
		Command{Name: "echo", Args: []string{"abc def"}},
		Command{Name: "tr", Args: []string{"a-z", "A-Z"}},
	)
	require.NoError(t, err)
	assert.Equal(t, "ABC DEF\n", string(res.Stdout))
}

func TestRunDiscardsStderrAndReportsExitCode(t *testing.T) {
	r := NewProcessRunner(0, "")
	res, err := r.Run(context.Background(),
		Command{Name: "sh", Args: []string{"-c", "echo out; echo err >&2; exit 3"}})
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, 3, res.ExitCode)
}

func TestRunFirstStageFailureInPipeline(t *testing.T) {
	r := NewProcessRunner(0, "")
	res, err := r.Run(context.Background(),
		Command{Name: "sh", Args: []string{"-c", "exit 2"}},
		Command{Name: "cat"},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ExitCode)
	assert.Empty(t, res.Stdout)
}

func TestRunSpawnError(t *testing.T) {
	r := NewProcessRunner(0, "")
	_, err := r.Run(context.Background(),
		Command{Name: "echo", Args: []string{"x"}},
		Command{Name: "/nonexistent/electrum-binary"},
	)
	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, "/nonexistent/electrum-binary", spawnErr.Command.Name)
}

func TestRunTimeout(t *testing.T) {
	r := NewProcessRunner(100*time.Millisecond, "")
	start := time.Now()
	_, err := r.Run(context.Background(), Command{Name: "sleep", Args: []string{"5"}})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRunCancelled(t *testing.T) {
	r := NewProcessRunner(0, "")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := r.Run(ctx, Command{Name: "sleep", Args: []string{"5"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunEmptyPipeline(t *testing.T) {
	_, err := NewProcessRunner(0, "").Run(context.Background())
	assert.Error(t, err)
}

func TestValidateExecutable(t *testing.T) {
	assert.NoError(t, ValidateExecutable("sh"))
	assert.Error(t, ValidateExecutable("/nonexistent/electrum-binary"))
	assert.Error(t, ValidateExecutable(t.TempDir()))
}
