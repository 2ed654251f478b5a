// Package posixio holds the low-level POSIX plumbing shared by the process
// and PTY registries: readiness-polled partial reads, WNOHANG reaping,
// signal-name parsing and child environment construction.
//
// All reads here operate on raw file descriptors via poll(2) so that a
// bounded wait budget can be honored without putting the descriptor into the
// Go runtime poller or blocking a goroutine past its deadline.
package posixio

import (
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// WaitReadable blocks until fd is readable or the timeout elapses.
// EINTR is retried with the remaining budget. A non-positive timeout
// performs a single immediate poll.
func WaitReadable(fd int, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		ms := int(time.Until(deadline) / time.Millisecond)
		if ms < 0 {
			ms = 0
		}
		pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfds, ms)
		if err == unix.EINTR {
			if time.Now().After(deadline) {
				return false, nil
			}
			continue
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
		// POLLHUP / POLLERR also count as readable: the subsequent read
		// surfaces EOF or the real error.
		return pfds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0, nil
	}
}

// ReadAvailable performs a single non-blocking-style read of up to max bytes.
// Returns closed=true when the descriptor reported EOF. EAGAIN is not an
// error: it returns (nil, false, nil).
func ReadAvailable(fd int, max int) (data []byte, closed bool, err error) {
	buf := make([]byte, max)
	for {
		n, rerr := unix.Read(fd, buf)
		if rerr == unix.EINTR {
			continue
		}
		if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
			return nil, false, nil
		}
		if rerr != nil {
			return nil, false, rerr
		}
		if n == 0 {
			return nil, true, nil
		}
		return buf[:n], false, nil
	}
}

// DrainWithBudget reads up to max bytes from fd, waiting up to budget for
// the first byte to become available. Once data has been observed the drain
// keeps reading whatever is immediately available (zero-timeout polls) until
// max is reached or the descriptor would block.
//
// closed reports EOF; err carries any other descriptor-level failure
// (notably EIO on a PTY master whose slave side is gone).
func DrainWithBudget(fd int, max int, budget time.Duration) (data []byte, closed bool, err error) {
	deadline := time.Now().Add(budget)
	for len(data) < max {
		wait := time.Until(deadline)
		if len(data) > 0 {
			// Already have bytes: only sweep up what is ready right now.
			wait = 0
		} else if wait < 0 {
			break
		}
		ready, perr := WaitReadable(fd, wait)
		if perr != nil {
			return data, false, perr
		}
		if !ready {
			if len(data) > 0 || time.Now().After(deadline) {
				break
			}
			continue
		}
		chunk, eof, rerr := ReadAvailable(fd, max-len(data))
		if rerr != nil {
			return data, false, rerr
		}
		if eof {
			return data, true, nil
		}
		if len(chunk) == 0 {
			// Spurious wakeup after poll; re-check the budget.
			if len(data) > 0 || time.Now().After(deadline) {
				break
			}
			continue
		}
		data = append(data, chunk...)
	}
	return data, false, nil
}

// ExitCode encodes a wait status the way the wire protocol expects:
// WEXITSTATUS for a normal exit, 128+signo for a signal death, -1 otherwise.
func ExitCode(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return -1
	}
}

// Reap attempts a non-blocking wait for pid. Outcomes:
//   - child reaped: exited=true, code holds the encoded exit status;
//   - child still running: exited=false;
//   - ECHILD: the child was already collected elsewhere — treated as exited
//     with no observable code (code stays nil).
func Reap(pid int) (code *int, exited bool, err error) {
	var ws unix.WaitStatus
	for {
		wpid, werr := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		if werr == unix.EINTR {
			continue
		}
		if werr == unix.ECHILD {
			return nil, true, nil
		}
		if werr != nil {
			return nil, false, werr
		}
		if wpid == 0 {
			return nil, false, nil
		}
		c := ExitCode(ws)
		return &c, true, nil
	}
}

// BuildEnv constructs the child environment per the start() contract:
// clearEnv means the child sees exactly the provided variables (possibly
// none); otherwise provided variables are overlaid on the inherited
// environment, provided winning on collisions. A nil provided map without
// clearEnv yields nil, which exec interprets as plain inheritance.
func BuildEnv(provided map[string]string, clearEnv bool) []string {
	if clearEnv {
		env := make([]string, 0, len(provided))
		for k, v := range provided {
			env = append(env, k+"="+v)
		}
		sort.Strings(env)
		return env
	}
	if provided == nil {
		return nil
	}
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range provided {
		merged[k] = v
	}
	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}
