package posixio

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ParseSignal resolves a wire-level signal parameter into a concrete signal.
// Accepted forms: a JSON number (15), a bare number as string ("15"), a
// signal name with or without the SIG prefix ("TERM", "SIGKILL"), in any
// case. A nil value yields SIGTERM, the protocol default.
func ParseSignal(v interface{}) (unix.Signal, error) {
	switch s := v.(type) {
	case nil:
		return unix.SIGTERM, nil
	case float64:
		if s != float64(int(s)) || s <= 0 {
			return 0, fmt.Errorf("invalid signal number %v", s)
		}
		return unix.Signal(int(s)), nil
	case int:
		if s <= 0 {
			return 0, fmt.Errorf("invalid signal number %d", s)
		}
		return unix.Signal(s), nil
	case string:
		name := strings.ToUpper(strings.TrimSpace(s))
		if name == "" {
			return unix.SIGTERM, nil
		}
		if n, err := strconv.Atoi(name); err == nil {
			if n <= 0 {
				return 0, fmt.Errorf("invalid signal number %d", n)
			}
			return unix.Signal(n), nil
		}
		if !strings.HasPrefix(name, "SIG") {
			name = "SIG" + name
		}
		sig := unix.SignalNum(name)
		if sig == 0 {
			return 0, fmt.Errorf("unknown signal %q", s)
		}
		return sig, nil
	default:
		return 0, fmt.Errorf("signal must be a number or name, got %T", v)
	}
}
