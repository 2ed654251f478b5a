package ptyman_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/scrypster/remoted/internal/ptyman"
)

func startShell(t *testing.T, r *ptyman.Registry) *ptyman.StartResult {
	t.Helper()
	res, err := r.Start(ptyman.StartSpec{Cmd: "/bin/sh"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(res.PID) })
	return res
}

// readUntil polls read_pty until pred is satisfied or the deadline passes.
func readUntil(t *testing.T, r *ptyman.Registry, handle int, pred func(*ptyman.ReadResult) bool) *ptyman.ReadResult {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		res, err := r.Read(handle, 65536, 100*time.Millisecond)
		require.NoError(t, err)
		if pred(res) || time.Now().After(deadline) {
			return res
		}
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestStart_HandleSpaceAndTTYName(t *testing.T) {
	r := ptyman.NewRegistry()
	res := startShell(t, r)

	assert.GreaterOrEqual(t, res.PID, ptyman.HandleBase)
	assert.Greater(t, res.OSPID, 0)
	assert.True(t, strings.HasPrefix(res.TTYName, "/dev/"), "tty name %q", res.TTYName)

	res2 := startShell(t, r)
	assert.Equal(t, res.PID+1, res2.PID, "handles are monotonic and never reused")
}

func TestStart_UnknownCommandFails(t *testing.T) {
	r := ptyman.NewRegistry()
	_, err := r.Start(ptyman.StartSpec{Cmd: "/no/such/binary"})
	assert.Error(t, err)
}

func TestWriteReadEcho(t *testing.T) {
	r := ptyman.NewRegistry()
	res := startShell(t, r)

	payload := []byte("echo pty-roundtrip\n")
	n, err := r.Write(res.PID, payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	got := readUntil(t, r, res.PID, func(rr *ptyman.ReadResult) bool {
		return rr.Output != nil && strings.Contains(*rr.Output, "pty-roundtrip")
	})
	require.NotNil(t, got.Output)
	assert.Contains(t, *got.Output, "pty-roundtrip")
	require.NotNil(t, got.OutputEncoding)
}

func TestRead_WouldBlockReturnsNulls(t *testing.T) {
	r := ptyman.NewRegistry()
	res, err := r.Start(ptyman.StartSpec{Cmd: "/bin/sleep", Args: []string{"10"}})
	require.NoError(t, err)
	defer func() { _ = r.Close(res.PID) }()

	rr, err := r.Read(res.PID, 65536, 0)
	require.NoError(t, err)
	assert.Nil(t, rr.Output)
	assert.Nil(t, rr.OutputEncoding)
	assert.False(t, rr.Exited)
	assert.Nil(t, rr.ExitCode)
}

func TestExit_StatusObservedAndFrozen(t *testing.T) {
	r := ptyman.NewRegistry()
	res := startShell(t, r)

	_, err := r.Write(res.PID, []byte("exit 7\n"))
	require.NoError(t, err)

	got := readUntil(t, r, res.PID, func(rr *ptyman.ReadResult) bool { return rr.Exited })
	require.True(t, got.Exited)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 7, *got.ExitCode)

	// Frozen on the record for as long as the handle lives.
	again, err := r.Read(res.PID, 65536, 0)
	require.NoError(t, err)
	assert.True(t, again.Exited)
	require.NotNil(t, again.ExitCode)
	assert.Equal(t, 7, *again.ExitCode)
}

func TestExit_SignalDeathEncodesAs128PlusSigno(t *testing.T) {
	r := ptyman.NewRegistry()
	res, err := r.Start(ptyman.StartSpec{Cmd: "/bin/sleep", Args: []string{"30"}})
	require.NoError(t, err)
	defer func() { _ = r.Close(res.PID) }()

	require.NoError(t, r.Kill(res.PID, unix.SIGTERM))
	got := readUntil(t, r, res.PID, func(rr *ptyman.ReadResult) bool { return rr.Exited })
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 128+int(unix.SIGTERM), *got.ExitCode)
}

// ---------------------------------------------------------------------------
// Teardown and idempotence
// ---------------------------------------------------------------------------

func TestClose_ForgetsHandle(t *testing.T) {
	r := ptyman.NewRegistry()
	res := startShell(t, r)

	require.NoError(t, r.Close(res.PID))
	assert.Empty(t, r.List())

	// Post-close read is an idempotent terminal probe, not a fault.
	rr, err := r.Read(res.PID, 65536, 0)
	require.NoError(t, err)
	assert.Nil(t, rr.Output)
	assert.Nil(t, rr.OutputEncoding)
	assert.True(t, rr.Exited)
	assert.Nil(t, rr.ExitCode)

	// But a second explicit close is a fault.
	assert.ErrorIs(t, r.Close(res.PID), ptyman.ErrNotFound)
}

func TestKill_SIGKILLEvictsAndClosesMaster(t *testing.T) {
	r := ptyman.NewRegistry()
	res := startShell(t, r)

	require.NoError(t, r.Kill(res.PID, unix.SIGKILL))
	assert.Empty(t, r.List())

	_, err := r.Write(res.PID, []byte("x"))
	assert.ErrorIs(t, err, ptyman.ErrNotFound)
}

func TestKill_NonKillKeepsRecord(t *testing.T) {
	r := ptyman.NewRegistry()
	res, err := r.Start(ptyman.StartSpec{Cmd: "/bin/sleep", Args: []string{"30"}})
	require.NoError(t, err)
	defer func() { _ = r.Close(res.PID) }()

	require.NoError(t, r.Kill(res.PID, unix.SIGTERM))
	infos := r.List()
	require.Len(t, infos, 1)
	assert.Equal(t, res.PID, infos[0].PID)
}

func TestResize_BestEffortSignal(t *testing.T) {
	r := ptyman.NewRegistry()
	res := startShell(t, r)

	// Resize succeeds even when nobody meaningful owns the foreground
	// process group; SIGWINCH delivery is best-effort by contract.
	require.NoError(t, r.Resize(res.PID, 50, 120))

	assert.ErrorIs(t, r.Resize(99999, 50, 120), ptyman.ErrNotFound)
}

func TestList_ReapsOnProbe(t *testing.T) {
	r := ptyman.NewRegistry()
	res, err := r.Start(ptyman.StartSpec{Cmd: "/bin/true"})
	require.NoError(t, err)
	defer func() { _ = r.Close(res.PID) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		infos := r.List()
		require.Len(t, infos, 1)
		if infos[0].Exited {
			require.NotNil(t, infos[0].ExitCode)
			assert.Equal(t, 0, *infos[0].ExitCode)
			break
		}
		require.True(t, time.Now().Before(deadline), "child exit never observed via list")
		time.Sleep(20 * time.Millisecond)
	}
}
