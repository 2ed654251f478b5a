package procman_test

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/scrypster/remoted/internal/procman"
	"github.com/scrypster/remoted/pkg/types"
)

// readUntilExited polls the registry until the child's exit is observable
// or the deadline passes, returning the final read result.
func readUntilExited(t *testing.T, r *procman.Registry, handle int) *procman.ReadResult {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		res, err := r.Read(handle, 65536, 50*time.Millisecond)
		require.NoError(t, err)
		if res.Exited || time.Now().After(deadline) {
			return res
		}
	}
}

// ---------------------------------------------------------------------------
// Registry lifecycle
// ---------------------------------------------------------------------------

func TestStart_HandlesAreSmallAndMonotonic(t *testing.T) {
	r := procman.NewRegistry()
	h1, err := r.Start(procman.StartSpec{Cmd: "/bin/true"})
	require.NoError(t, err)
	h2, err := r.Start(procman.StartSpec{Cmd: "/bin/true"})
	require.NoError(t, err)

	assert.Equal(t, 1, h1)
	assert.Equal(t, 2, h2)
	assert.Less(t, h2, 10000, "pipe handles stay below the PTY handle space")
}

func TestStart_UnknownCommandFails(t *testing.T) {
	r := procman.NewRegistry()
	_, err := r.Start(procman.StartSpec{Cmd: "/no/such/binary"})
	assert.Error(t, err)
}

func TestReadEchoesStdout(t *testing.T) {
	r := procman.NewRegistry()
	h, err := r.Start(procman.StartSpec{Cmd: "/bin/echo", Args: []string{"hello"}})
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	var out string
	for time.Now().Before(deadline) {
		res, err := r.Read(h, 65536, 100*time.Millisecond)
		require.NoError(t, err)
		if res.Stdout != nil {
			out = *res.Stdout
			assert.Equal(t, types.EncodingText, *res.StdoutEncoding)
			break
		}
	}
	assert.Equal(t, "hello\n", out)
}

func TestWriteReadRoundTripThroughCat(t *testing.T) {
	r := procman.NewRegistry()
	h, err := r.Start(procman.StartSpec{Cmd: "/bin/cat"})
	require.NoError(t, err)

	n, err := r.Write(h, []byte("ping\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	res, err := r.Read(h, 65536, 1000*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, res.Stdout)
	assert.Equal(t, "ping\n", *res.Stdout)
	assert.False(t, res.Exited)

	// Closing stdin lets cat finish.
	require.NoError(t, r.CloseStdin(h))
	res = readUntilExited(t, r, h)
	assert.True(t, res.Exited)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
}

func TestRead_TimeoutZeroYieldsQuickly(t *testing.T) {
	r := procman.NewRegistry()
	h, err := r.Start(procman.StartSpec{Cmd: "/bin/sleep", Args: []string{"10"}})
	require.NoError(t, err)
	defer func() { _ = r.Kill(h, unix.SIGKILL) }()

	start := time.Now()
	res, err := r.Read(h, 65536, 0)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Nil(t, res.Stdout)
	assert.Nil(t, res.StdoutEncoding)
	assert.False(t, res.Exited)
	assert.Nil(t, res.ExitCode)
}

func TestRead_UnknownHandle(t *testing.T) {
	r := procman.NewRegistry()
	_, err := r.Read(99, 65536, 0)
	assert.ErrorIs(t, err, procman.ErrNotFound)
}

func TestExitCode_SignalDeathReads128PlusSigno(t *testing.T) {
	r := procman.NewRegistry()
	h, err := r.Start(procman.StartSpec{Cmd: "/bin/sleep", Args: []string{"30"}})
	require.NoError(t, err)

	require.NoError(t, r.Kill(h, unix.SIGTERM))
	res := readUntilExited(t, r, h)
	require.True(t, res.Exited)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 128+int(unix.SIGTERM), *res.ExitCode)

	// The observed code is frozen for the record's remaining life.
	res2, err := r.Read(h, 65536, 0)
	require.NoError(t, err)
	assert.Equal(t, *res.ExitCode, *res2.ExitCode)
}

func TestKill_NonKillSignalKeepsRecordListed(t *testing.T) {
	r := procman.NewRegistry()
	h, err := r.Start(procman.StartSpec{Cmd: "/bin/sleep", Args: []string{"30"}})
	require.NoError(t, err)

	require.NoError(t, r.Kill(h, unix.SIGTERM))

	infos := r.List()
	require.Len(t, infos, 1)
	assert.Equal(t, h, infos[0].PID)

	// Post-mortem listing still reports the exit status.
	readUntilExited(t, r, h)
	infos = r.List()
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Exited)
}

func TestKill_SIGKILLEvictsRecord(t *testing.T) {
	r := procman.NewRegistry()
	h, err := r.Start(procman.StartSpec{Cmd: "/bin/sleep", Args: []string{"30"}})
	require.NoError(t, err)

	require.NoError(t, r.Kill(h, unix.SIGKILL))
	assert.Empty(t, r.List())

	_, err = r.Read(h, 65536, 0)
	assert.ErrorIs(t, err, procman.ErrNotFound)
}

func TestWrite_AfterCloseStdinFails(t *testing.T) {
	r := procman.NewRegistry()
	h, err := r.Start(procman.StartSpec{Cmd: "/bin/cat"})
	require.NoError(t, err)
	defer func() { _ = r.Kill(h, unix.SIGKILL) }()

	require.NoError(t, r.CloseStdin(h))
	_, err = r.Write(h, []byte("late"))
	assert.ErrorIs(t, err, procman.ErrStdinClosed)

	// Idempotent: a second close is a no-op.
	assert.NoError(t, r.CloseStdin(h))
}

func TestStart_ClearEnvGivesChildExactEnvironment(t *testing.T) {
	r := procman.NewRegistry()
	h, err := r.Start(procman.StartSpec{
		Cmd:      "/usr/bin/env",
		Env:      map[string]string{"ONLY_VAR": "only-value"},
		ClearEnv: true,
	})
	require.NoError(t, err)

	// The output can arrive in a read that still reports the child as
	// running, so stdout is collected across reads until a read after the
	// exit brings nothing new.
	var out string
	deadline := time.Now().Add(5 * time.Second)
	for {
		res, err := r.Read(h, 65536, 50*time.Millisecond)
		require.NoError(t, err)
		if res.Stdout != nil {
			out += *res.Stdout
		}
		if (res.Exited && res.Stdout == nil) || time.Now().After(deadline) {
			break
		}
	}
	require.NotEmpty(t, out)
	assert.Equal(t, "ONLY_VAR=only-value\n", out)
}

func TestList_SnapshotShape(t *testing.T) {
	r := procman.NewRegistry()
	h, err := r.Start(procman.StartSpec{Cmd: "/bin/sleep", Args: []string{"5"}})
	require.NoError(t, err)
	defer func() { _ = r.Kill(h, unix.SIGKILL) }()

	infos := r.List()
	require.Len(t, infos, 1)
	assert.Equal(t, h, infos[0].PID)
	assert.Greater(t, infos[0].OSPID, 0)
	assert.Equal(t, "/bin/sleep 5", infos[0].Cmd)
	assert.False(t, infos[0].Exited)
	assert.Nil(t, infos[0].ExitCode)
}

// ---------------------------------------------------------------------------
// Run (synchronous)
// ---------------------------------------------------------------------------

func TestRun_CapturesStdoutAndExitCode(t *testing.T) {
	res, err := procman.Run(procman.RunSpec{
		StartSpec: procman.StartSpec{Cmd: "/bin/echo", Args: []string{"hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, types.EncodingText, res.StdoutEncoding)
	assert.Equal(t, "", res.Stderr)
	assert.Equal(t, types.EncodingText, res.StderrEncoding)
}

func TestRun_NonZeroExit(t *testing.T) {
	res, err := procman.Run(procman.RunSpec{
		StartSpec: procman.StartSpec{Cmd: "/bin/sh", Args: []string{"-c", "exit 3"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestRun_FeedsStdin(t *testing.T) {
	res, err := procman.Run(procman.RunSpec{
		StartSpec: procman.StartSpec{Cmd: "/bin/cat"},
		Stdin:     []byte("from stdin"),
	})
	require.NoError(t, err)
	assert.Equal(t, "from stdin", res.Stdout)
}

func TestRun_TimeoutKillsChild(t *testing.T) {
	_, err := procman.Run(procman.RunSpec{
		StartSpec: procman.StartSpec{Cmd: "/bin/sleep", Args: []string{"30"}},
		Timeout:   100 * time.Millisecond,
	})
	assert.Error(t, err)
}

func TestRun_BinaryOutputFallsBackToBase64(t *testing.T) {
	res, err := procman.Run(procman.RunSpec{
		StartSpec: procman.StartSpec{Cmd: "/usr/bin/printf", Args: []string{`\377\376`}},
	})
	require.NoError(t, err)
	assert.Equal(t, types.EncodingBase64, res.StdoutEncoding)
	raw, err := base64.StdEncoding.DecodeString(res.Stdout)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xfe}, raw)
}
