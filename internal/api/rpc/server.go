package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/remoted/internal/config"
	"github.com/scrypster/remoted/internal/encode"
	"github.com/scrypster/remoted/internal/fsops"
	"github.com/scrypster/remoted/internal/posixio"
	"github.com/scrypster/remoted/internal/procman"
	"github.com/scrypster/remoted/internal/ptyman"
	"github.com/scrypster/remoted/internal/sysinfo"
	"github.com/scrypster/remoted/pkg/types"
)

// handlerFunc is one entry of the dispatch table.
type handlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Server validates request envelopes, dispatches over the method catalog
// and wraps outcomes into response envelopes. The two process registries it
// owns hold all long-lived state.
type Server struct {
	cfg       *config.Config
	files     *fsops.Ops
	procs     *procman.Registry
	ptys      *ptyman.Registry
	handlers  map[string]handlerFunc
	logger    *log.Logger
	sessionID string
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithConfig injects a *config.Config into the Server. Without it the
// environment-derived defaults apply.
func WithConfig(cfg *config.Config) ServerOption {
	return func(s *Server) {
		s.cfg = cfg
	}
}

// WithFileOps injects the filesystem handler set, letting tests point the
// file methods at a scratch filesystem.
func WithFileOps(ops *fsops.Ops) ServerOption {
	return func(s *Server) {
		s.files = ops
	}
}

// WithLogger redirects diagnostics. The default logger writes to stderr;
// anything else on stdout would corrupt the protocol framing.
func WithLogger(logger *log.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a server with fresh, empty process registries.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		files:     fsops.NewOS(),
		procs:     procman.NewRegistry(),
		ptys:      ptyman.NewRegistry(),
		logger:    log.New(os.Stderr, "remoted: ", log.LstdFlags),
		sessionID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg == nil {
		s.cfg, _ = config.LoadConfig()
	}
	s.registerHandlers()
	s.logger.Printf("session ID: %s", s.sessionID)
	return s
}

func (s *Server) registerHandlers() {
	s.handlers = map[string]handlerFunc{
		"file.stat":          s.handleFileStat,
		"file.stat_batch":    s.handleFileStatBatch,
		"file.exists":        s.handleFileExists,
		"file.readable":      s.handleFileReadable,
		"file.writable":      s.handleFileWritable,
		"file.executable":    s.handleFileExecutable,
		"file.truename":      s.handleFileTruename,
		"file.newer_than":    s.handleFileNewerThan,
		"file.read":          s.handleFileRead,
		"file.write":         s.handleFileWrite,
		"file.copy":          s.handleFileCopy,
		"file.rename":        s.handleFileRename,
		"file.delete":        s.handleFileDelete,
		"file.set_modes":     s.handleFileSetModes,
		"file.set_times":     s.handleFileSetTimes,
		"file.make_symlink":  s.handleFileMakeSymlink,
		"file.make_hardlink": s.handleFileMakeHardlink,
		"file.chown":         s.handleFileChown,

		"dir.list":        s.handleDirList,
		"dir.create":      s.handleDirCreate,
		"dir.remove":      s.handleDirRemove,
		"dir.completions": s.handleDirCompletions,

		"process.run":         s.handleProcessRun,
		"process.start":       s.handleProcessStart,
		"process.write":       s.handleProcessWrite,
		"process.read":        s.handleProcessRead,
		"process.close_stdin": s.handleProcessCloseStdin,
		"process.kill":        s.handleProcessKill,
		"process.list":        s.handleProcessList,

		"process.start_pty":  s.handlePTYStart,
		"process.read_pty":   s.handlePTYRead,
		"process.write_pty":  s.handlePTYWrite,
		"process.resize_pty": s.handlePTYResize,
		"process.kill_pty":   s.handlePTYKill,
		"process.close_pty":  s.handlePTYClose,
		"process.list_pty":   s.handlePTYList,

		"system.info":        s.handleSystemInfo,
		"system.getenv":      s.handleSystemGetenv,
		"system.expand_path": s.handleSystemExpandPath,
		"system.statvfs":     s.handleSystemStatvfs,
		"system.groups":      s.handleSystemGroups,

		"batch": s.handleBatch,
	}
}

// HandleRequest processes one JSON-RPC 2.0 request line and returns the
// serialized response. Every outcome, including every failure, produces
// exactly one response frame.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, fmt.Sprintf("Parse error: %v", err), nil)
	}

	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}
	if req.Method == "" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid Request: missing method", nil)
	}

	handler, ok := s.handlers[req.Method]
	if !ok {
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	start := time.Now()
	result, err := handler(ctx, req.Params)
	if s.cfg.Log.LogRequests {
		s.logger.Printf("%s took %s", req.Method, time.Since(start))
	}

	if err != nil {
		obj := toErrorObject(err)
		return s.errorResponse(req.ID, obj.Code, obj.Message, obj.Data)
	}
	return s.successResponse(req.ID, result)
}

// toErrorObject converts a handler failure into a wire error object.
// Classified errors pass through; anything else is an internal fault whose
// string form becomes the message.
func toErrorObject(err error) *JSONRPCError {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return &JSONRPCError{Code: rpcErr.Code, Message: rpcErr.Message, Data: rpcErr.Data}
	}
	return &JSONRPCError{Code: ErrCodeInternalError, Message: err.Error()}
}

func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
	})
}

// decodeParams unmarshals raw params into a typed argument struct. Absent
// params decode as the empty object; non-object params (arrays, scalars)
// are a parameter-shape failure.
func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 || bytes.Equal(bytes.TrimSpace(params), []byte("null")) {
		params = []byte("{}")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return invalidParams("%v", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// file.* handlers
// ---------------------------------------------------------------------------

func (s *Server) pathArg(params json.RawMessage) (string, error) {
	var args PathArgs
	if err := decodeParams(params, &args); err != nil {
		return "", err
	}
	if args.Path == "" {
		return "", invalidParams("path is required")
	}
	return args.Path, nil
}

func (s *Server) handleFileStat(_ context.Context, params json.RawMessage) (interface{}, error) {
	path, err := s.pathArg(params)
	if err != nil {
		return nil, err
	}
	attrs, err := s.files.Stat(path)
	if err != nil {
		return nil, mapOSError(err, path)
	}
	return attrs, nil
}

// statBatchEntry is one row of a file.stat_batch result. Per-entry failures
// are encoded here, never as a top-level error.
type statBatchEntry struct {
	Path  string           `json:"path"`
	Attrs *types.FileAttrs `json:"attrs,omitempty"`
	Error *JSONRPCError    `json:"error,omitempty"`
}

func (s *Server) handleFileStatBatch(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args StatBatchArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Paths == nil {
		return nil, invalidParams("paths is required")
	}

	entries := make([]statBatchEntry, len(args.Paths))
	g, _ := errgroup.WithContext(ctx)
	for i, path := range args.Paths {
		g.Go(func() error {
			entries[i] = statBatchEntry{Path: path}
			attrs, err := s.files.Stat(path)
			if err != nil {
				mapped := mapOSError(err, path)
				entries[i].Error = &JSONRPCError{Code: mapped.Code, Message: mapped.Message}
				return nil
			}
			entries[i].Attrs = attrs
			return nil
		})
	}
	_ = g.Wait()
	return map[string]interface{}{"results": entries}, nil
}

func (s *Server) handleFileExists(_ context.Context, params json.RawMessage) (interface{}, error) {
	path, err := s.pathArg(params)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"exists": s.files.Exists(path)}, nil
}

func (s *Server) handleFileReadable(_ context.Context, params json.RawMessage) (interface{}, error) {
	path, err := s.pathArg(params)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"readable": s.files.Readable(path)}, nil
}

func (s *Server) handleFileWritable(_ context.Context, params json.RawMessage) (interface{}, error) {
	path, err := s.pathArg(params)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"writable": s.files.Writable(path)}, nil
}

func (s *Server) handleFileExecutable(_ context.Context, params json.RawMessage) (interface{}, error) {
	path, err := s.pathArg(params)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"executable": s.files.Executable(path)}, nil
}

func (s *Server) handleFileTruename(_ context.Context, params json.RawMessage) (interface{}, error) {
	path, err := s.pathArg(params)
	if err != nil {
		return nil, err
	}
	resolved, err := s.files.Truename(path)
	if err != nil {
		return nil, mapOSError(err, path)
	}
	return map[string]string{"truename": resolved}, nil
}

func (s *Server) handleFileNewerThan(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args NewerThanArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.File1 == "" || args.File2 == "" {
		return nil, invalidParams("file1 and file2 are required")
	}
	newer, err := s.files.NewerThan(args.File1, args.File2)
	if err != nil {
		return nil, mapOSError(err, "")
	}
	return map[string]bool{"newer": newer}, nil
}

func (s *Server) handleFileRead(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args ReadFileArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, invalidParams("path is required")
	}
	length := int64(-1)
	if args.Length != nil {
		length = *args.Length
	}
	data, err := s.files.Read(args.Path, args.Offset, length)
	if err != nil {
		return nil, mapOSError(err, args.Path)
	}
	return map[string]interface{}{
		"content": encode.Base64(data),
		"size":    len(data),
	}, nil
}

func (s *Server) handleFileWrite(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args WriteFileArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, invalidParams("path is required")
	}
	content, err := encode.Input(args.Content)
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	offset := int64(-1)
	if args.Offset != nil {
		offset = *args.Offset
	}
	written, err := s.files.Write(args.Path, content, os.FileMode(args.Mode), args.Append, offset)
	if err != nil {
		return nil, mapOSError(err, args.Path)
	}
	return map[string]int{"written": written}, nil
}

func (s *Server) handleFileCopy(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args CopyArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Source == "" || args.Destination == "" {
		return nil, invalidParams("source and destination are required")
	}
	if err := s.files.Copy(args.Source, args.Destination, args.PreserveModes); err != nil {
		return nil, mapOSError(err, "")
	}
	return okResult(), nil
}

func (s *Server) handleFileRename(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args RenameArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Source == "" || args.Destination == "" {
		return nil, invalidParams("source and destination are required")
	}
	if err := s.files.Rename(args.Source, args.Destination); err != nil {
		return nil, mapOSError(err, "")
	}
	return okResult(), nil
}

func (s *Server) handleFileDelete(_ context.Context, params json.RawMessage) (interface{}, error) {
	path, err := s.pathArg(params)
	if err != nil {
		return nil, err
	}
	if err := s.files.Delete(path); err != nil {
		return nil, mapOSError(err, path)
	}
	return okResult(), nil
}

func (s *Server) handleFileSetModes(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args SetModesArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, invalidParams("path is required")
	}
	if args.Mode == nil {
		return nil, invalidParams("mode is required")
	}
	if err := s.files.SetModes(args.Path, os.FileMode(*args.Mode)); err != nil {
		return nil, mapOSError(err, args.Path)
	}
	return okResult(), nil
}

func (s *Server) handleFileSetTimes(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args SetTimesArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, invalidParams("path is required")
	}
	atime, mtime := int64(-1), int64(-1)
	if args.Atime != nil {
		atime = *args.Atime
	}
	if args.Mtime != nil {
		mtime = *args.Mtime
	}
	if err := s.files.SetTimes(args.Path, atime, mtime); err != nil {
		return nil, mapOSError(err, args.Path)
	}
	return okResult(), nil
}

func (s *Server) handleFileMakeSymlink(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args LinkArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Target == "" || args.Linkname == "" {
		return nil, invalidParams("target and linkname are required")
	}
	if err := s.files.MakeSymlink(args.Target, args.Linkname); err != nil {
		return nil, mapOSError(err, args.Linkname)
	}
	return okResult(), nil
}

func (s *Server) handleFileMakeHardlink(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args LinkArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Target == "" || args.Linkname == "" {
		return nil, invalidParams("target and linkname are required")
	}
	if err := s.files.MakeHardlink(args.Target, args.Linkname); err != nil {
		return nil, mapOSError(err, args.Linkname)
	}
	return okResult(), nil
}

func (s *Server) handleFileChown(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args ChownArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, invalidParams("path is required")
	}
	if args.UID == nil && args.GID == nil && args.Owner == "" && args.Group == "" {
		return nil, invalidParams("one of uid, gid, owner, group is required")
	}
	uid, gid := -1, -1
	if args.UID != nil {
		uid = *args.UID
	}
	if args.GID != nil {
		gid = *args.GID
	}
	if err := s.files.Chown(args.Path, uid, gid, args.Owner, args.Group); err != nil {
		return nil, mapOSError(err, args.Path)
	}
	return okResult(), nil
}

// ---------------------------------------------------------------------------
// dir.* handlers
// ---------------------------------------------------------------------------

func (s *Server) handleDirList(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args DirListArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, invalidParams("path is required")
	}
	entries, err := s.files.List(args.Path, args.IncludeHidden, args.IncludeAttrs)
	if err != nil {
		return nil, mapOSError(err, args.Path)
	}
	return map[string]interface{}{"entries": entries}, nil
}

func (s *Server) handleDirCreate(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args DirCreateArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, invalidParams("path is required")
	}
	if err := s.files.CreateDir(args.Path, args.Parents, os.FileMode(args.Mode)); err != nil {
		return nil, mapOSError(err, args.Path)
	}
	return okResult(), nil
}

func (s *Server) handleDirRemove(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args DirRemoveArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, invalidParams("path is required")
	}
	if err := s.files.RemoveDir(args.Path, args.Recursive); err != nil {
		return nil, mapOSError(err, args.Path)
	}
	return okResult(), nil
}

func (s *Server) handleDirCompletions(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args CompletionsArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Directory == "" {
		return nil, invalidParams("directory is required")
	}
	completions, err := s.files.Completions(args.Directory, args.Prefix)
	if err != nil {
		return nil, mapOSError(err, args.Directory)
	}
	return map[string]interface{}{"completions": completions}, nil
}

// ---------------------------------------------------------------------------
// process.* handlers (pipe registry)
// ---------------------------------------------------------------------------

func procNotFound(pid int) *Error {
	return &Error{Code: ErrCodeProcessError, Message: fmt.Sprintf("No such process: %d", pid)}
}

func (s *Server) handleProcessRun(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args ProcessRunArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Cmd == "" {
		return nil, invalidParams("cmd is required")
	}
	var stdin []byte
	if args.Stdin != "" {
		var err error
		if stdin, err = encode.Input(args.Stdin); err != nil {
			return nil, invalidParams("%v", err)
		}
	}
	result, err := procman.Run(procman.RunSpec{
		StartSpec: procman.StartSpec{
			Cmd:      args.Cmd,
			Args:     args.Args,
			Cwd:      args.Cwd,
			Env:      args.Env,
			ClearEnv: args.ClearEnv,
		},
		Stdin:   stdin,
		Timeout: time.Duration(args.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return nil, processError(err)
	}
	return result, nil
}

func (s *Server) handleProcessStart(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args ProcessStartArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Cmd == "" {
		return nil, invalidParams("cmd is required")
	}
	handle, err := s.procs.Start(procman.StartSpec{
		Cmd:      args.Cmd,
		Args:     args.Args,
		Cwd:      args.Cwd,
		Env:      args.Env,
		ClearEnv: args.ClearEnv,
	})
	if err != nil {
		return nil, processError(err)
	}
	return map[string]int{"pid": handle}, nil
}

func (s *Server) handleProcessWrite(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args ProcessWriteArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.PID == nil {
		return nil, invalidParams("pid is required")
	}
	data, err := encode.Input(args.Data)
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	n, err := s.procs.Write(*args.PID, data)
	if err != nil {
		if errors.Is(err, procman.ErrNotFound) {
			return nil, procNotFound(*args.PID)
		}
		return nil, processError(err)
	}
	return map[string]int{"written": n}, nil
}

func (s *Server) handleProcessRead(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args ProcessReadArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.PID == nil {
		return nil, invalidParams("pid is required")
	}
	maxBytes := args.MaxBytes
	if maxBytes <= 0 {
		maxBytes = s.cfg.Process.ReadBufferBytes
	}
	result, err := s.procs.Read(*args.PID, maxBytes, time.Duration(args.TimeoutMs)*time.Millisecond)
	if err != nil {
		if errors.Is(err, procman.ErrNotFound) {
			return nil, procNotFound(*args.PID)
		}
		return nil, processError(err)
	}
	return result, nil
}

func (s *Server) handleProcessCloseStdin(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args HandleArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.PID == nil {
		return nil, invalidParams("pid is required")
	}
	if err := s.procs.CloseStdin(*args.PID); err != nil {
		if errors.Is(err, procman.ErrNotFound) {
			return nil, procNotFound(*args.PID)
		}
		return nil, processError(err)
	}
	return okResult(), nil
}

func (s *Server) handleProcessKill(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args ProcessKillArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.PID == nil {
		return nil, invalidParams("pid is required")
	}
	sig, err := posixio.ParseSignal(args.Signal)
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	if err := s.procs.Kill(*args.PID, sig); err != nil {
		if errors.Is(err, procman.ErrNotFound) {
			return nil, procNotFound(*args.PID)
		}
		return nil, processError(err)
	}
	return okResult(), nil
}

func (s *Server) handleProcessList(_ context.Context, _ json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"processes": s.procs.List()}, nil
}

// ---------------------------------------------------------------------------
// process.*_pty handlers
// ---------------------------------------------------------------------------

func (s *Server) handlePTYStart(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args PTYStartArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Cmd == "" {
		return nil, invalidParams("cmd is required")
	}
	result, err := s.ptys.Start(ptyman.StartSpec{
		Cmd:      args.Cmd,
		Args:     args.Args,
		Cwd:      args.Cwd,
		Env:      args.Env,
		ClearEnv: args.ClearEnv,
		Rows:     args.Rows,
		Cols:     args.Cols,
	})
	if err != nil {
		return nil, processError(err)
	}
	return result, nil
}

func (s *Server) handlePTYRead(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args ProcessReadArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.PID == nil {
		return nil, invalidParams("pid is required")
	}
	maxBytes := args.MaxBytes
	if maxBytes <= 0 {
		maxBytes = s.cfg.Process.ReadBufferBytes
	}
	result, err := s.ptys.Read(*args.PID, maxBytes, time.Duration(args.TimeoutMs)*time.Millisecond)
	if err != nil {
		return nil, processError(err)
	}
	return result, nil
}

func (s *Server) handlePTYWrite(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args ProcessWriteArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.PID == nil {
		return nil, invalidParams("pid is required")
	}
	data, err := encode.Input(args.Data)
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	n, err := s.ptys.Write(*args.PID, data)
	if err != nil {
		if errors.Is(err, ptyman.ErrNotFound) {
			return nil, procNotFound(*args.PID)
		}
		return nil, processError(err)
	}
	return map[string]int{"written": n}, nil
}

func (s *Server) handlePTYResize(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args PTYResizeArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.PID == nil {
		return nil, invalidParams("pid is required")
	}
	if args.Rows == 0 || args.Cols == 0 {
		return nil, invalidParams("rows and cols must be positive")
	}
	if err := s.ptys.Resize(*args.PID, args.Rows, args.Cols); err != nil {
		if errors.Is(err, ptyman.ErrNotFound) {
			return nil, procNotFound(*args.PID)
		}
		return nil, processError(err)
	}
	return okResult(), nil
}

func (s *Server) handlePTYKill(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args ProcessKillArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.PID == nil {
		return nil, invalidParams("pid is required")
	}
	sig, err := posixio.ParseSignal(args.Signal)
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	if err := s.ptys.Kill(*args.PID, sig); err != nil {
		if errors.Is(err, ptyman.ErrNotFound) {
			return nil, procNotFound(*args.PID)
		}
		return nil, processError(err)
	}
	return okResult(), nil
}

func (s *Server) handlePTYClose(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args HandleArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.PID == nil {
		return nil, invalidParams("pid is required")
	}
	if err := s.ptys.Close(*args.PID); err != nil {
		if errors.Is(err, ptyman.ErrNotFound) {
			return nil, procNotFound(*args.PID)
		}
		return nil, processError(err)
	}
	return okResult(), nil
}

func (s *Server) handlePTYList(_ context.Context, _ json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"processes": s.ptys.List()}, nil
}

// ---------------------------------------------------------------------------
// system.* handlers
// ---------------------------------------------------------------------------

func (s *Server) handleSystemInfo(_ context.Context, _ json.RawMessage) (interface{}, error) {
	return sysinfo.GetInfo(), nil
}

func (s *Server) handleSystemGetenv(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args GetenvArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Names == nil {
		return nil, invalidParams("names is required")
	}
	return map[string]interface{}{"values": sysinfo.Getenv(args.Names)}, nil
}

func (s *Server) handleSystemExpandPath(_ context.Context, params json.RawMessage) (interface{}, error) {
	path, err := s.pathArg(params)
	if err != nil {
		return nil, err
	}
	expanded, err := sysinfo.ExpandPath(path)
	if err != nil {
		return nil, mapOSError(err, path)
	}
	return map[string]string{"expanded": expanded}, nil
}

func (s *Server) handleSystemStatvfs(_ context.Context, params json.RawMessage) (interface{}, error) {
	path, err := s.pathArg(params)
	if err != nil {
		return nil, err
	}
	st, err := sysinfo.Statvfs(path)
	if err != nil {
		return nil, mapOSError(err, path)
	}
	return st, nil
}

func (s *Server) handleSystemGroups(_ context.Context, _ json.RawMessage) (interface{}, error) {
	groups, err := sysinfo.Groups()
	if err != nil {
		return nil, mapOSError(err, "")
	}
	return map[string]interface{}{"groups": groups}, nil
}

// ---------------------------------------------------------------------------
// batch
// ---------------------------------------------------------------------------

// handleBatch fans the sub-requests out concurrently and collects outcomes
// in input order. Sub-entries skip envelope validation; only method lookup
// and handler failures are reported, each in its own slot. Nested batches
// are not dispatchable.
func (s *Server) handleBatch(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args BatchArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Requests == nil {
		return nil, invalidParams("requests is required")
	}

	results := make([]BatchSubResult, len(args.Requests))
	g, gctx := errgroup.WithContext(ctx)
	for i, sub := range args.Requests {
		g.Go(func() error {
			handler, ok := s.handlers[sub.Method]
			if sub.Method == "batch" || !ok {
				results[i] = BatchSubResult{Error: &JSONRPCError{
					Code:    ErrCodeMethodNotFound,
					Message: fmt.Sprintf("Method not found: %s", sub.Method),
				}}
				return nil
			}
			result, err := handler(gctx, sub.Params)
			if err != nil {
				obj := toErrorObject(err)
				results[i] = BatchSubResult{Error: &JSONRPCError{Code: obj.Code, Message: obj.Message}}
				return nil
			}
			results[i] = BatchSubResult{Result: result}
			return nil
		})
	}
	_ = g.Wait()
	return map[string]interface{}{"results": results}, nil
}

func okResult() map[string]bool {
	return map[string]bool{"ok": true}
}
