package posixio_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/scrypster/remoted/internal/posixio"
)

// ---------------------------------------------------------------------------
// DrainWithBudget
// ---------------------------------------------------------------------------

func TestDrainWithBudget_ReadsPendingBytes(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)

	data, closed, err := posixio.DrainWithBudget(int(r.Fd()), 1024, 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Equal(t, []byte("hello"), data)
}

func TestDrainWithBudget_TimesOutEmpty(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	start := time.Now()
	data, closed, err := posixio.DrainWithBudget(int(r.Fd()), 1024, 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Empty(t, data)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDrainWithBudget_ReportsEOF(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	_, err = w.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, closed, err := posixio.DrainWithBudget(int(r.Fd()), 1024, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte("tail"), data)
	assert.True(t, closed, "EOF is visible in the same drain that returns the tail")

	// A further drain on the closed pipe stays at EOF with no data.
	data, closed, err = posixio.DrainWithBudget(int(r.Fd()), 1024, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.True(t, closed)
}

func TestDrainWithBudget_HonorsMaxBytes(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)

	data, _, err := posixio.DrainWithBudget(int(r.Fd()), 4, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123"), data)

	data, _, err = posixio.DrainWithBudget(int(r.Fd()), 1024, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte("456789"), data)
}

// ---------------------------------------------------------------------------
// ExitCode
// ---------------------------------------------------------------------------

func TestExitCode_SignalDeathEncodesAs128PlusSigno(t *testing.T) {
	// Build a raw wait status the way the kernel reports a SIGKILL death.
	ws := unix.WaitStatus(int(unix.SIGKILL))
	require.True(t, ws.Signaled())
	assert.Equal(t, 128+int(unix.SIGKILL), posixio.ExitCode(ws))
}

func TestExitCode_NormalExit(t *testing.T) {
	ws := unix.WaitStatus(7 << 8)
	require.True(t, ws.Exited())
	assert.Equal(t, 7, posixio.ExitCode(ws))
}

// ---------------------------------------------------------------------------
// BuildEnv
// ---------------------------------------------------------------------------

func TestBuildEnv_ClearEnvUsesExactlyProvided(t *testing.T) {
	env := posixio.BuildEnv(map[string]string{"ONLY": "this"}, true)
	assert.Equal(t, []string{"ONLY=this"}, env)
}

func TestBuildEnv_ClearEnvEmptyIsNonNil(t *testing.T) {
	env := posixio.BuildEnv(nil, true)
	assert.NotNil(t, env)
	assert.Empty(t, env)
}

func TestBuildEnv_NilMeansInherit(t *testing.T) {
	assert.Nil(t, posixio.BuildEnv(nil, false))
}

func TestBuildEnv_ProvidedWinsOverInherited(t *testing.T) {
	t.Setenv("REMOTED_TEST_COLLIDE", "inherited")
	env := posixio.BuildEnv(map[string]string{"REMOTED_TEST_COLLIDE": "provided"}, false)
	assert.Contains(t, env, "REMOTED_TEST_COLLIDE=provided")
	assert.NotContains(t, env, "REMOTED_TEST_COLLIDE=inherited")
}

// ---------------------------------------------------------------------------
// ParseSignal
// ---------------------------------------------------------------------------

func TestParseSignal(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want unix.Signal
		err  bool
	}{
		{"default", nil, unix.SIGTERM, false},
		{"number", float64(9), unix.SIGKILL, false},
		{"bare name", "KILL", unix.SIGKILL, false},
		{"full name", "SIGTERM", unix.SIGTERM, false},
		{"lower case", "sigwinch", unix.SIGWINCH, false},
		{"numeric string", "15", unix.SIGTERM, false},
		{"unknown name", "SIGNOPE", 0, true},
		{"negative", float64(-1), 0, true},
		{"wrong type", true, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := posixio.ParseSignal(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, sig)
		})
	}
}
