// Package rpc implements the JSON-RPC 2.0 request pipeline: envelope
// validation, the dispatch table over the method catalog, error mapping and
// the batch executor. The stdio framing lives in transport.go.
package rpc

import (
	"encoding/json"
)

// JSONRPCRequest represents a JSON-RPC 2.0 request. Params stays raw until
// the target handler decodes it into its typed argument struct.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"` // Must be "2.0"
	Method  string          `json:"method"`  // Dotted method name
	Params  json.RawMessage `json:"params"`  // Method parameters (object)
	ID      interface{}     `json:"id"`      // Request ID (any scalar, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response. Exactly one of Result
// and Error is populated.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      interface{}   `json:"id"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ---------------------------------------------------------------------------
// file.* argument structs
// ---------------------------------------------------------------------------

// PathArgs covers every method whose only parameter is a path.
type PathArgs struct {
	Path string `json:"path"`
}

// StatBatchArgs contains arguments for file.stat_batch.
type StatBatchArgs struct {
	Paths []string `json:"paths"`
}

// NewerThanArgs contains arguments for file.newer_than.
type NewerThanArgs struct {
	File1 string `json:"file1"`
	File2 string `json:"file2"`
}

// ReadFileArgs contains arguments for file.read. Length -1 (the default)
// reads to end of file.
type ReadFileArgs struct {
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
	Length *int64 `json:"length"`
}

// WriteFileArgs contains arguments for file.write. Content is base64.
// Offset nil means a plain (truncating or appending) write.
type WriteFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Mode    uint32 `json:"mode"`
	Append  bool   `json:"append"`
	Offset  *int64 `json:"offset"`
}

// CopyArgs contains arguments for file.copy.
type CopyArgs struct {
	Source        string `json:"source"`
	Destination   string `json:"destination"`
	PreserveModes bool   `json:"preserve_modes"`
}

// RenameArgs contains arguments for file.rename.
type RenameArgs struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// SetModesArgs contains arguments for file.set_modes.
type SetModesArgs struct {
	Path string  `json:"path"`
	Mode *uint32 `json:"mode"`
}

// SetTimesArgs contains arguments for file.set_times. Absent fields select
// the current time.
type SetTimesArgs struct {
	Path  string `json:"path"`
	Atime *int64 `json:"atime"`
	Mtime *int64 `json:"mtime"`
}

// LinkArgs contains arguments for file.make_symlink and file.make_hardlink.
type LinkArgs struct {
	Target   string `json:"target"`
	Linkname string `json:"linkname"`
}

// ChownArgs contains arguments for file.chown. Numeric IDs and names are
// both accepted; names win when both are present.
type ChownArgs struct {
	Path  string `json:"path"`
	UID   *int   `json:"uid"`
	GID   *int   `json:"gid"`
	Owner string `json:"owner"`
	Group string `json:"group"`
}

// ---------------------------------------------------------------------------
// dir.* argument structs
// ---------------------------------------------------------------------------

// DirListArgs contains arguments for dir.list.
type DirListArgs struct {
	Path          string `json:"path"`
	IncludeHidden bool   `json:"include_hidden"`
	IncludeAttrs  bool   `json:"include_attrs"`
}

// DirCreateArgs contains arguments for dir.create.
type DirCreateArgs struct {
	Path    string `json:"path"`
	Parents bool   `json:"parents"`
	Mode    uint32 `json:"mode"`
}

// DirRemoveArgs contains arguments for dir.remove.
type DirRemoveArgs struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

// CompletionsArgs contains arguments for dir.completions.
type CompletionsArgs struct {
	Directory string `json:"directory"`
	Prefix    string `json:"prefix"`
}

// ---------------------------------------------------------------------------
// process.* argument structs
// ---------------------------------------------------------------------------

// ProcessStartArgs contains the shared spawn arguments of process.run,
// process.start and process.start_pty.
type ProcessStartArgs struct {
	Cmd      string            `json:"cmd"`
	Args     []string          `json:"args"`
	Cwd      string            `json:"cwd"`
	Env      map[string]string `json:"env"`
	ClearEnv bool              `json:"clear_env"`
}

// ProcessRunArgs contains arguments for process.run.
type ProcessRunArgs struct {
	ProcessStartArgs
	Stdin     string `json:"stdin"` // base64
	TimeoutMs int    `json:"timeout_ms"`
}

// PTYStartArgs contains arguments for process.start_pty.
type PTYStartArgs struct {
	ProcessStartArgs
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// HandleArgs covers the process methods addressed by handle alone.
type HandleArgs struct {
	PID *int `json:"pid"`
}

// ProcessWriteArgs contains arguments for process.write and
// process.write_pty. Data is base64.
type ProcessWriteArgs struct {
	PID  *int   `json:"pid"`
	Data string `json:"data"`
}

// ProcessReadArgs contains arguments for process.read and process.read_pty.
type ProcessReadArgs struct {
	PID       *int `json:"pid"`
	MaxBytes  int  `json:"max_bytes"`
	TimeoutMs int  `json:"timeout_ms"`
}

// ProcessKillArgs contains arguments for process.kill and process.kill_pty.
// Signal accepts a number or a name; nil means SIGTERM.
type ProcessKillArgs struct {
	PID    *int        `json:"pid"`
	Signal interface{} `json:"signal"`
}

// PTYResizeArgs contains arguments for process.resize_pty.
type PTYResizeArgs struct {
	PID  *int   `json:"pid"`
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// ---------------------------------------------------------------------------
// system.* and batch argument structs
// ---------------------------------------------------------------------------

// GetenvArgs contains arguments for system.getenv.
type GetenvArgs struct {
	Names []string `json:"names"`
}

// BatchArgs contains arguments for batch.
type BatchArgs struct {
	Requests []BatchSubRequest `json:"requests"`
}

// BatchSubRequest is one sub-call of a batch request. Envelope fields are
// deliberately absent: sub-entries skip envelope validation.
type BatchSubRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// BatchSubResult is the outcome of one sub-call, positionally matched to
// its sub-request.
type BatchSubResult struct {
	Result interface{}   `json:"result,omitempty"`
	Error  *JSONRPCError `json:"error,omitempty"`
}
