// cmd/remoted is the entry point for the remoted JSON-RPC 2.0 server. It
// exposes remote file-system and process-control operations to a single
// client over stdin/stdout, replacing per-operation shell round-trips with
// one structured request/response channel.
//
// Startup sequence:
//  1. Load configuration from environment variables.
//  2. Create the server with fresh process and PTY registries.
//  3. Serve line-delimited JSON-RPC 2.0 from stdin, writing responses to
//     stdout.
//
// The server takes no flags and always exits 0 on EOF, SIGINT or SIGPIPE.
// Children in the registries are deliberately not reaped on shutdown.
//
// CRITICAL: ALL logging MUST go to stderr. Any bytes written to stdout that
// are not valid JSON-RPC 2.0 response frames will corrupt the protocol.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/scrypster/remoted/internal/api/rpc"
	"github.com/scrypster/remoted/internal/config"
)

func main() {
	// Redirect the default logger to stderr so that any incidental log
	// calls from imported packages never pollute the stdout stream.
	log.SetOutput(os.Stderr)
	log.SetPrefix("remoted: ")
	log.SetFlags(log.LstdFlags)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Root context cancelled on SIGINT / SIGTERM / SIGPIPE, then the process
	// exits 0. Serve may be blocked reading stdin, where it would only see
	// the cancellation once another line arrives, so the exit happens here.
	// Subscribing to SIGPIPE also keeps the runtime from killing the process
	// on a broken stdout; the write error surfaces through Serve as well.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGPIPE)
	go func() {
		sig := <-sigCh
		log.Printf("received %v - shutting down", sig)
		cancel()
		os.Exit(0)
	}()

	srv := rpc.NewServer(rpc.WithConfig(cfg))
	transport := rpc.NewStdioTransport(srv, os.Stdin, os.Stdout, cfg.Transport.MaxLineBytes)

	log.Println("ready - serving JSON-RPC 2.0 on stdin/stdout")

	if err := transport.Serve(ctx); err != nil {
		// Context cancellation and broken-pipe errors are a normal end of
		// life for the control stream; either way the exit code stays 0.
		log.Printf("transport stopped: %v", err)
	}
}
