// transport.go provides the StdioTransport that wires a Server to its
// client via line-delimited JSON-RPC 2.0 over stdin / stdout.
//
// Protocol rules (must be followed exactly):
//   - Each JSON-RPC request arrives as a single newline-terminated line on
//     stdin. Blank lines are ignored.
//   - Each JSON-RPC response is written as a single newline-terminated line
//     to stdout, in request arrival order.
//   - ALL diagnostic output (logging, errors) MUST go to stderr only. Any
//     stray bytes on stdout will corrupt the protocol framing.
package rpc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
)

// StdioTransport reads line-delimited JSON-RPC 2.0 requests from an
// io.Reader and writes responses to an io.Writer. It is the bridge between
// the raw stdio streams and the Server.
type StdioTransport struct {
	server       *Server
	in           io.Reader
	out          io.Writer
	logger       *log.Logger
	maxLineBytes int
}

// NewStdioTransport constructs a StdioTransport that reads from in and
// writes to out. maxLineBytes bounds the accepted request line length.
//
// Usage with real stdio:
//
//	t := rpc.NewStdioTransport(srv, os.Stdin, os.Stdout, cfg.Transport.MaxLineBytes)
//	t.Serve(ctx)
func NewStdioTransport(srv *Server, in io.Reader, out io.Writer, maxLineBytes int) *StdioTransport {
	if maxLineBytes <= 0 {
		maxLineBytes = 4 * 1024 * 1024
	}
	return &StdioTransport{
		server: srv,
		in:     in,
		out:    out,
		// Explicitly target stderr so that log output never touches stdout.
		logger:       log.New(os.Stderr, "remoted: ", log.LstdFlags),
		maxLineBytes: maxLineBytes,
	}
}

// Serve processes requests until stdin is closed or ctx is cancelled.
// ctx is checked before each line is read, so a cancellation that arrives
// while Serve waits for input takes effect after the next line or EOF.
// EOF is a clean shutdown. Requests are handled strictly in arrival order
// and every request, including a malformed one, yields exactly one
// response line.
func (t *StdioTransport) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)
	buf := make([]byte, t.maxLineBytes)
	scanner.Buffer(buf, t.maxLineBytes)

	for {
		select {
		case <-ctx.Done():
			t.logger.Println("context cancelled - shutting down")
			return ctx.Err()
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				t.logger.Printf("stdin scanner error: %v", err)
				return fmt.Errorf("stdin scanner: %w", err)
			}
			t.logger.Println("stdin closed - shutting down")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, err := t.server.HandleRequest(ctx, line)
		if err != nil {
			// HandleRequest only fails if a response cannot be marshaled;
			// emit a hard-coded frame so the protocol does not stall.
			t.logger.Printf("handler error: %v", err)
			resp = []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
		}

		if err := t.writeResponse(resp); err != nil {
			// A broken stdout means the client is gone; treat it like EOF.
			t.logger.Printf("write error: %v", err)
			return fmt.Errorf("write response: %w", err)
		}
	}
}

// writeResponse writes a single response line to stdout. A trailing newline
// frames the response; the encoder never emits bare newlines inside a value.
func (t *StdioTransport) writeResponse(resp []byte) error {
	_, err := fmt.Fprintf(t.out, "%s\n", resp)
	return err
}
