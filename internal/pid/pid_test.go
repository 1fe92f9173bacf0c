package pid

import (
	"os"
	"strconv"
	"testing"

	"codeberg.org/mutker/domwatch/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	require.NoError(t, Write())
	data, err := os.ReadFile(Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	// Rewriting our own PID is allowed.
	require.NoError(t, Write())

	require.NoError(t, Remove())
	_, err = os.Stat(Path())
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, Remove())
}

func TestWriteRefusesLiveProcess(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	// The parent of the test binary is alive for the duration of the test.
	require.NoError(t, os.WriteFile(Path(), []byte(strconv.Itoa(os.Getppid())), 0o600))

	err := Write()
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestWriteReplacesStaleFile(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	require.NoError(t, os.WriteFile(Path(), []byte("not a pid\n"), 0o600))
	require.NoError(t, Write())

	pid, ok := readPID(Path())
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)
}
