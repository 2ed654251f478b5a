package procman

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/scrypster/remoted/internal/encode"
	"github.com/scrypster/remoted/internal/posixio"
	"github.com/scrypster/remoted/pkg/types"
)

// RunSpec describes a synchronous process.run invocation.
type RunSpec struct {
	StartSpec
	Stdin   []byte
	Timeout time.Duration // zero means no deadline
}

// RunResult is the wire payload of process.run. Unlike the registry read,
// both streams are always present (possibly empty).
type RunResult struct {
	ExitCode       int            `json:"exit_code"`
	Stdout         string         `json:"stdout"`
	StdoutEncoding types.Encoding `json:"stdout_encoding"`
	Stderr         string         `json:"stderr"`
	StderrEncoding types.Encoding `json:"stderr_encoding"`
}

// Run executes a command to completion, capturing both output streams.
// When the timeout elapses first the child is killed and an error returned.
func Run(spec RunSpec) (*RunResult, error) {
	if spec.Cmd == "" {
		return nil, errors.New("cmd is required")
	}
	cmd := exec.Command(spec.Cmd, spec.Args...)
	cmd.Dir = spec.Cwd
	cmd.Env = posixio.BuildEnv(spec.Env, spec.ClearEnv)
	if spec.Stdin != nil {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	if spec.Timeout > 0 {
		select {
		case waitErr = <-done:
		case <-time.After(spec.Timeout):
			_ = cmd.Process.Kill()
			<-done // collect the child before reporting
			return nil, fmt.Errorf("command timed out after %s", spec.Timeout)
		}
	} else {
		waitErr = <-done
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return nil, waitErr
	}

	result := &RunResult{ExitCode: exitCodeFromWait(cmd, waitErr)}
	result.Stdout, result.StdoutEncoding = encode.Bytes(stdoutBuf.Bytes())
	result.Stderr, result.StderrEncoding = encode.Bytes(stderrBuf.Bytes())
	return result, nil
}
