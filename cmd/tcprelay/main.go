// Command tcprelay is the CLI entry point: argument parsing, log sink
// and metrics wiring, and signal-driven shutdown are external
// collaborators per spec.md §1 — the accept loop below only supplies
// the core engine with accepted sockets, session ids, and the shared
// config record.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"

	"github.com/diogin/tcprelay/internal/config"
	"github.com/diogin/tcprelay/internal/metrics"
	"github.com/diogin/tcprelay/internal/relay"
	"github.com/diogin/tcprelay/internal/rlog"
)

const version = "1.0.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	cli, err := config.Parse(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if cli.Help {
		printUsage()
		return 0
	}
	if cli.Version {
		fmt.Println("tcprelay " + version)
		return 0
	}

	if err := rlog.Configure(rlog.Level(cli.LogLevel)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg, err := cli.SessionConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// --threads maps onto the worker-thread pool spec.md §5 describes;
	// Go's scheduler is the executor, GOMAXPROCS is the pool size.
	runtime.GOMAXPROCS(cli.NumThreads)

	instanceID := uuid.NewString()
	sink := rlog.NewSink(instanceID)
	collector := metrics.NewCollector()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cli.MetricsAddr != "" {
		go serveMetrics(ctx, cli.MetricsAddr)
	}

	loop := relay.NewAcceptLoop(cfg)
	loop.Log = sink
	loop.Stats = collector

	sink.Startup(cli.ListenAddress(), *cfg)
	err = loop.Serve(ctx, cli.ListenAddress())
	sink.Shutdown("signal or listener error")
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	_ = server.ListenAndServe()
}

func printUsage() {
	fmt.Println(`tcprelay - TCP relay with optional HTTP CONNECT upstream

Usage:
  tcprelay -t host:port [flags]

Flags:
  -l, --listen_addr <ip>       listen address (default 0.0.0.0)
  -p, --port <1..65535>        listen port (default 8886)
  -t, --target <host:port>     destination, required
      --timeout <seconds>      idle timeout (default 240)
      --via <none|http_proxy>  outbound mode (default none)
      --http_proxy <host:port> upstream proxy, required iff via=http_proxy
      --log_level <level>      trace|debug|info|warn|error|disable (default info)
      --threads <n>            worker threads (default 4)
      --metrics_addr <addr>    optional host:port to serve /metrics on
      --config <file>          optional YAML config file
  -h, --help                   show this help
  -v, --version                show version`)
}
