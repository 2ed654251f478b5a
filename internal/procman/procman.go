// Package procman implements the async process registry: backgrounded
// children whose stdin/stdout/stderr pipes are owned by the server, with
// poll-bounded partial reads, drainable writes, signaled termination and
// exit-status caching.
//
// Handles are small integers starting at 1 and are never reused; the PTY
// registry allocates from 10000 upward so the two handle spaces stay
// disjoint.
package procman

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/scrypster/remoted/internal/encode"
	"github.com/scrypster/remoted/internal/posixio"
	"github.com/scrypster/remoted/pkg/types"
)

// ErrNotFound reports an unknown process handle.
var ErrNotFound = errors.New("no such process")

// ErrStdinClosed reports a write after the child's stdin was closed.
var ErrStdinClosed = errors.New("stdin is closed")

// StartSpec describes a child to spawn.
type StartSpec struct {
	Cmd      string
	Args     []string
	Cwd      string
	Env      map[string]string
	ClearEnv bool
}

func (s StartSpec) cmdline() string {
	return strings.Join(append([]string{s.Cmd}, s.Args...), " ")
}

// ReadResult is the wire payload of process.read. Stream fields are nil when
// no bytes were read in their window.
type ReadResult struct {
	Exited         bool            `json:"exited"`
	ExitCode       *int            `json:"exit_code"`
	Stdout         *string         `json:"stdout"`
	StdoutEncoding *types.Encoding `json:"stdout_encoding"`
	Stderr         *string         `json:"stderr"`
	StderrEncoding *types.Encoding `json:"stderr_encoding"`
}

type process struct {
	handle  int
	osPid   int
	cmdline string

	stdin  *os.File // parent write end
	stdout *os.File // parent read end
	stderr *os.File // parent read end

	// ioMu serializes host I/O against this handle so concurrent batch
	// sub-requests cannot interleave reads or writes on the same pipes.
	ioMu sync.Mutex

	// Guarded by Registry.mu.
	exited      bool
	exitCode    *int
	stdinClosed bool
	removed     bool
}

// Registry is the process-wide catalog of pipe-based children.
type Registry struct {
	mu    sync.Mutex
	procs map[int]*process
	next  int
}

// NewRegistry returns an empty registry with handles starting at 1.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[int]*process), next: 1}
}

// Start spawns a child with three pipes and registers it. The returned
// handle identifies the child in all subsequent calls.
func (r *Registry) Start(spec StartSpec) (int, error) {
	if spec.Cmd == "" {
		return 0, errors.New("cmd is required")
	}
	cmd := exec.Command(spec.Cmd, spec.Args...)
	cmd.Dir = spec.Cwd
	cmd.Env = posixio.BuildEnv(spec.Env, spec.ClearEnv)

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return 0, err
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return 0, err
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return 0, err
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW} {
			f.Close()
		}
		return 0, err
	}
	// Child ends are duplicated into the child; release the parent copies.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	p := &process{
		osPid:   cmd.Process.Pid,
		cmdline: spec.cmdline(),
		stdin:   stdinW,
		stdout:  stdoutR,
		stderr:  stderrR,
	}

	r.mu.Lock()
	p.handle = r.next
	r.next++
	r.procs[p.handle] = p
	r.mu.Unlock()

	// The waiter owns reaping for pipe children. The exit status is cached
	// on the record and frozen from first observation.
	go func() {
		err := cmd.Wait()
		code := exitCodeFromWait(cmd, err)
		r.mu.Lock()
		if !p.exited {
			p.exited = true
			p.exitCode = &code
		}
		r.mu.Unlock()
	}()

	return p.handle, nil
}

func exitCodeFromWait(cmd *exec.Cmd, err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return posixio.ExitCode(unix.WaitStatus(ws))
		}
		return -1
	}
	if err != nil {
		return -1
	}
	if cmd.ProcessState != nil {
		if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok {
			return posixio.ExitCode(unix.WaitStatus(ws))
		}
	}
	return 0
}

// Write appends data to the child's stdin and reports the bytes written.
// Writing to an exited child or a closed stdin fails.
func (r *Registry) Write(handle int, data []byte) (int, error) {
	r.mu.Lock()
	p, ok := r.procs[handle]
	if !ok {
		r.mu.Unlock()
		return 0, ErrNotFound
	}
	if p.stdinClosed {
		r.mu.Unlock()
		return 0, ErrStdinClosed
	}
	if p.exited {
		r.mu.Unlock()
		return 0, fmt.Errorf("process %d has exited", handle)
	}
	stdin := p.stdin
	r.mu.Unlock()

	p.ioMu.Lock()
	defer p.ioMu.Unlock()
	n, err := stdin.Write(data)
	if err != nil {
		return n, fmt.Errorf("write to stdin: %w", err)
	}
	return n, nil
}

// Read drains up to maxBytes from stdout and up to maxBytes from stderr,
// each within the given budget, then reports the child's exit status.
// A zero timeout uses a minimal nonzero budget so the call yields instead
// of blocking.
func (r *Registry) Read(handle int, maxBytes int, timeout time.Duration) (*ReadResult, error) {
	if maxBytes <= 0 {
		maxBytes = 65536
	}
	if timeout <= 0 {
		timeout = time.Millisecond
	}

	r.mu.Lock()
	p, ok := r.procs[handle]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	stdout, stderr := p.stdout, p.stderr
	r.mu.Unlock()

	p.ioMu.Lock()
	var outBytes, errBytes []byte
	var g errgroup.Group
	g.Go(func() error {
		data, _, err := posixio.DrainWithBudget(int(stdout.Fd()), maxBytes, timeout)
		outBytes = data
		if err != nil && err != unix.EIO {
			return err
		}
		return nil
	})
	g.Go(func() error {
		data, _, err := posixio.DrainWithBudget(int(stderr.Fd()), maxBytes, timeout)
		errBytes = data
		if err != nil && err != unix.EIO {
			return err
		}
		return nil
	})
	drainErr := g.Wait()
	p.ioMu.Unlock()
	if drainErr != nil {
		return nil, drainErr
	}

	result := &ReadResult{}
	if len(outBytes) > 0 {
		s, enc := encode.Bytes(outBytes)
		result.Stdout, result.StdoutEncoding = &s, &enc
	}
	if len(errBytes) > 0 {
		s, enc := encode.Bytes(errBytes)
		result.Stderr, result.StderrEncoding = &s, &enc
	}

	r.mu.Lock()
	result.Exited = p.exited
	result.ExitCode = p.exitCode
	r.mu.Unlock()
	return result, nil
}

// CloseStdin closes the child's stdin; the close is durable once this
// returns. Closing an already-closed stdin is a no-op.
func (r *Registry) CloseStdin(handle int) error {
	r.mu.Lock()
	p, ok := r.procs[handle]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	alreadyClosed := p.stdinClosed
	p.stdinClosed = true
	stdin := p.stdin
	r.mu.Unlock()

	if alreadyClosed {
		return nil
	}
	p.ioMu.Lock()
	defer p.ioMu.Unlock()
	return stdin.Close()
}

// Kill delivers sig to the child's OS pid. SIGKILL also evicts the record
// in the same critical section; any other signal leaves it in place so the
// client can still observe the exit status.
func (r *Registry) Kill(handle int, sig unix.Signal) error {
	r.mu.Lock()
	p, ok := r.procs[handle]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if sig == unix.SIGKILL {
		delete(r.procs, handle)
		p.removed = true
	}
	osPid := p.osPid
	r.mu.Unlock()

	err := unix.Kill(osPid, sig)
	if sig == unix.SIGKILL {
		p.ioMu.Lock()
		p.stdin.Close()
		p.stdout.Close()
		p.stderr.Close()
		p.ioMu.Unlock()
		// ESRCH just means the child beat us to the exit.
		if err == unix.ESRCH {
			err = nil
		}
	}
	if err != nil {
		return fmt.Errorf("kill %d: %w", handle, err)
	}
	return nil
}

// List snapshots the registry, sorted by handle.
func (r *Registry) List() []types.ProcessInfo {
	r.mu.Lock()
	infos := make([]types.ProcessInfo, 0, len(r.procs))
	for _, p := range r.procs {
		infos = append(infos, types.ProcessInfo{
			PID:      p.handle,
			OSPID:    p.osPid,
			Cmd:      p.cmdline,
			Exited:   p.exited,
			ExitCode: p.exitCode,
		})
	}
	r.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].PID < infos[j].PID })
	return infos
}
