// Package ptyman implements the PTY process registry: children attached to
// pseudo-terminals, with session and controlling-terminal setup, a
// non-blocking master side, window-size signaling to the foreground process
// group, and WNOHANG reaping under EIO/ECHILD ambiguity.
//
// Handles start at 10000 so clients can tell PTY children from pipe children
// by handle alone.
package ptyman

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

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/scrypster/remoted/internal/encode"
	"github.com/scrypster/remoted/internal/posixio"
	"github.com/scrypster/remoted/pkg/types"
)

// ErrNotFound reports an unknown PTY handle.
var ErrNotFound = errors.New("no such pty")

// HandleBase is the first PTY handle; pipe handles stay below it.
const HandleBase = 10000

// StartSpec describes a PTY child to spawn.
type StartSpec struct {
	Cmd      string
	Args     []string
	Cwd      string
	Env      map[string]string
	ClearEnv bool
	Rows     uint16
	Cols     uint16
}

func (s StartSpec) cmdline() string {
	return strings.Join(append([]string{s.Cmd}, s.Args...), " ")
}

// StartResult is the wire payload of process.start_pty.
type StartResult struct {
	PID     int    `json:"pid"`
	OSPID   int    `json:"os_pid"`
	TTYName string `json:"tty_name"`
}

// ReadResult is the wire payload of process.read_pty. Output is nil when no
// bytes were read in the window; ExitCode stays nil until a reap observes
// the child's termination status.
type ReadResult struct {
	Output         *string         `json:"output"`
	OutputEncoding *types.Encoding `json:"output_encoding"`
	Exited         bool            `json:"exited"`
	ExitCode       *int            `json:"exit_code"`
}

// terminalResult is the idempotent response for reads against a forgotten
// handle: a terminal state rather than a fault.
func terminalResult() *ReadResult {
	return &ReadResult{Exited: true}
}

type ptyProcess struct {
	handle  int
	osPid   int
	cmdline string
	master  *os.File
	ttyName string

	// ioMu serializes master-side I/O for this handle.
	ioMu sync.Mutex

	// Guarded by Registry.mu.
	exited       bool
	exitCode     *int
	masterClosed bool
}

// Registry is the process-wide catalog of PTY children.
type Registry struct {
	mu    sync.Mutex
	procs map[int]*ptyProcess
	next  int
}

// NewRegistry returns an empty registry with handles starting at HandleBase.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[int]*ptyProcess), next: HandleBase}
}

// Start opens a pty pair, sets the initial window size, and spawns the
// command in a new session with the slave as its controlling terminal and
// as stdin/stdout/stderr. The master is switched to non-blocking mode and
// retained by the registry.
func (r *Registry) Start(spec StartSpec) (*StartResult, error) {
	if spec.Cmd == "" {
		return nil, errors.New("cmd is required")
	}
	if spec.Rows == 0 {
		spec.Rows = 24
	}
	if spec.Cols == 0 {
		spec.Cols = 80
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, err
	}
	if err := pty.Setsize(master, &pty.Winsize{Rows: spec.Rows, Cols: spec.Cols}); err != nil {
		master.Close()
		slave.Close()
		return nil, err
	}

	cmd := exec.Command(spec.Cmd, spec.Args...)
	cmd.Dir = spec.Cwd
	cmd.Env = posixio.BuildEnv(spec.Env, spec.ClearEnv)
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	// New session with the slave (child fd 0) as the controlling terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	if err := cmd.Start(); err != nil {
		master.Close()
		slave.Close()
		return nil, err
	}
	slave.Close()

	// The poll-bounded reader tolerates a blocking master, so a failure
	// here is not fatal.
	_ = unix.SetNonblock(int(master.Fd()), true)

	p := &ptyProcess{
		osPid:   cmd.Process.Pid,
		cmdline: spec.cmdline(),
		master:  master,
		ttyName: slave.Name(),
	}

	r.mu.Lock()
	p.handle = r.next
	r.next++
	r.procs[p.handle] = p
	r.mu.Unlock()

	// cmd.Wait is never called for PTY children; reaping happens via
	// WNOHANG probes on read/list so the exit status lands in the record.
	cmd.Process.Release()

	return &StartResult{PID: p.handle, OSPID: p.osPid, TTYName: p.ttyName}, nil
}

// Read performs a single-ended, poll-bounded read from the master, then
// attempts a non-blocking reap. Reads against an unknown handle return an
// idempotent terminal result instead of failing, so clients polling a
// closed handle converge.
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
		return terminalResult(), nil
	}
	master := p.master
	closed := p.masterClosed
	r.mu.Unlock()

	var data []byte
	if !closed {
		p.ioMu.Lock()
		var err error
		data, _, err = posixio.DrainWithBudget(int(master.Fd()), maxBytes, timeout)
		p.ioMu.Unlock()
		// EIO on a pty master is a strong hint the child exited; the reap
		// below resolves it. Anything else is likewise left to the reap:
		// the registry never reports a read fault for a managed handle.
		_ = err
	}

	r.reap(p)

	result := &ReadResult{}
	if len(data) > 0 {
		s, enc := encode.Bytes(data)
		result.Output, result.OutputEncoding = &s, &enc
	}
	r.mu.Lock()
	result.Exited = p.exited
	result.ExitCode = p.exitCode
	r.mu.Unlock()
	return result, nil
}

// reap runs a WNOHANG wait and freezes the exit status on first
// observation. ECHILD counts as already-exited with no observable code.
func (r *Registry) reap(p *ptyProcess) {
	r.mu.Lock()
	if p.exited {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	code, exited, err := posixio.Reap(p.osPid)
	if err != nil || !exited {
		return
	}
	r.mu.Lock()
	if !p.exited {
		p.exited = true
		p.exitCode = code
	}
	r.mu.Unlock()
}

// Write sends data to the master; a short write is not an error and the
// count of bytes actually written is returned.
func (r *Registry) Write(handle int, data []byte) (int, error) {
	r.mu.Lock()
	p, ok := r.procs[handle]
	if !ok || p.masterClosed {
		r.mu.Unlock()
		return 0, ErrNotFound
	}
	master := p.master
	r.mu.Unlock()

	p.ioMu.Lock()
	defer p.ioMu.Unlock()
	// Fd() puts the descriptor back into blocking mode; restore non-blocking
	// so a full master buffer ends in EAGAIN rather than a stalled write.
	fd := int(master.Fd())
	_ = unix.SetNonblock(fd, true)
	total := 0
	for total < len(data) {
		n, err := unix.Write(fd, data[total:])
		if n > 0 {
			total += n
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			// Master buffer full: report the short write.
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("write to pty master: %w", err)
		}
	}
	return total, nil
}

// Resize sets the master window size, then signals the change. SIGWINCH
// goes to the terminal's foreground process group when it can be resolved,
// falling back to the child's process group; both are best-effort.
func (r *Registry) Resize(handle int, rows, cols uint16) error {
	r.mu.Lock()
	p, ok := r.procs[handle]
	if !ok || p.masterClosed {
		r.mu.Unlock()
		return ErrNotFound
	}
	master := p.master
	osPid := p.osPid
	r.mu.Unlock()

	p.ioMu.Lock()
	defer p.ioMu.Unlock()
	if err := pty.Setsize(master, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("set winsize: %w", err)
	}

	if pgid, err := unix.IoctlGetInt(int(master.Fd()), unix.TIOCGPGRP); err == nil && pgid > 0 {
		if unix.Kill(-pgid, unix.SIGWINCH) == nil {
			return nil
		}
	}
	if pgid, err := unix.Getpgid(osPid); err == nil && pgid > 0 {
		_ = unix.Kill(-pgid, unix.SIGWINCH)
	}
	return nil
}

// Kill delivers sig to the child's OS pid. SIGKILL also closes the master
// and evicts the record.
func (r *Registry) Kill(handle int, sig unix.Signal) error {
	r.mu.Lock()
	p, ok := r.procs[handle]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	var master *os.File
	if sig == unix.SIGKILL {
		delete(r.procs, handle)
		if !p.masterClosed {
			p.masterClosed = true
			master = p.master
		}
	}
	osPid := p.osPid
	r.mu.Unlock()

	err := unix.Kill(osPid, sig)
	if master != nil {
		p.ioMu.Lock()
		master.Close()
		p.ioMu.Unlock()
	}
	if sig == unix.SIGKILL && err == unix.ESRCH {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("kill pty %d: %w", handle, err)
	}
	return nil
}

// Close tears the handle down unconditionally: evict, SIGKILL (ESRCH
// ignored), close the master (errors ignored). Closing an unknown handle
// is a fault; polling it via Read afterwards is not.
func (r *Registry) Close(handle int) error {
	r.mu.Lock()
	p, ok := r.procs[handle]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.procs, handle)
	var master *os.File
	if !p.masterClosed {
		p.masterClosed = true
		master = p.master
	}
	osPid := p.osPid
	r.mu.Unlock()

	_ = unix.Kill(osPid, unix.SIGKILL)
	if master != nil {
		p.ioMu.Lock()
		master.Close()
		p.ioMu.Unlock()
	}
	return nil
}

// List snapshots the registry with the same reap-on-probe semantics as
// Read, sorted by handle.
func (r *Registry) List() []types.ProcessInfo {
	r.mu.Lock()
	procs := make([]*ptyProcess, 0, len(r.procs))
	for _, p := range r.procs {
		procs = append(procs, p)
	}
	r.mu.Unlock()

	for _, p := range procs {
		r.reap(p)
	}

	r.mu.Lock()
	infos := make([]types.ProcessInfo, 0, len(procs))
	for _, p := range procs {
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
