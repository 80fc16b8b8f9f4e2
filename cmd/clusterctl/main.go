package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/10yihang/clusterrouter/internal/client"
	"github.com/10yihang/clusterrouter/internal/cluster"
	"github.com/10yihang/clusterrouter/internal/cluster/hash"
	"github.com/10yihang/clusterrouter/internal/cluster/state"
	"github.com/10yihang/clusterrouter/internal/config"
	"github.com/10yihang/clusterrouter/internal/metrics"
)

var version = "dev"

var (
	configPath  = flag.String("config", "clusterctl.yaml", "config file (YAML)")
	seeds       = flag.String("seeds", "", "comma-separated seed nodes (host:port), overrides config")
	logLevel    = flag.String("log-level", "", "log level, overrides config")
	metricsAddr = flag.String("metrics-addr", "", "metrics HTTP address for watch, overrides config")
	jsonOut     = flag.Bool("json", false, "print the topology as JSON")
	timeout     = flag.Duration("timeout", 10*time.Second, "timeout for one-shot commands")
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "Usage: clusterctl [flags] <command> [args...]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  slots               print the slot layout")
	fmt.Fprintln(out, "  route <cmd> [args]  show where a command would be sent")
	fmt.Fprintln(out, "  do <cmd> [args]     run a command against the cluster")
	fmt.Fprintln(out, "  keyslot <key>...    print hash slots, no cluster needed")
	fmt.Fprintln(out, "  watch               keep the topology fresh and serve metrics")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Flags:")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	if args[0] == "keyslot" {
		os.Exit(runKeyslot(os.Stdout, args[1:]))
	}

	cfg, err := initConfig(*configPath, *seeds, *logLevel, *metricsAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := initLogger(&cfg)
	metrics.InitInfo(version, runtime.Version(), runtime.GOOS, runtime.GOARCH)

	opts, err := client.OptionsFromConfig(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cl, err := client.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}

	code := run(cl, cfg, log, args)
	if err := cl.Close(); err != nil {
		log.Warn("error closing client", "error", err)
	}
	os.Exit(code)
}

func run(cl *client.Client, cfg config.Config, log *slog.Logger, args []string) int {
	if args[0] == "watch" {
		return runWatch(cl, cfg, log)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := cl.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	switch args[0] {
	case "slots":
		return runSlots(os.Stdout, cl.CurrentTopology(), *jsonOut)
	case "route":
		return runRoute(os.Stdout, cl, args[1:])
	case "do":
		return runDo(ctx, os.Stdout, cl, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		return 2
	}
}

func runKeyslot(w io.Writer, keys []string) int {
	if len(keys) == 0 {
		fmt.Fprintln(os.Stderr, "keyslot: need at least one key")
		return 2
	}
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%d\n", k, hash.KeySlot(k))
	}
	return 0
}

func runSlots(w io.Writer, snap *cluster.Snapshot, asJSON bool) int {
	view := state.FromSnapshot(snap)
	var err error
	if asJSON {
		err = writeViewJSON(w, view)
	} else {
		err = writeView(w, view)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "slots: %v\n", err)
		return 1
	}
	return 0
}

func runRoute(w io.Writer, cl *client.Client, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "route: need a command")
		return 2
	}
	target, err := cl.Route(cluster.NewCommand(args...))
	if err != nil {
		fmt.Fprintf(os.Stderr, "route: %v\n", err)
		return 1
	}
	fmt.Fprintln(w, formatTarget(target))
	return 0
}

func runDo(ctx context.Context, w io.Writer, cl *client.Client, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "do: need a command")
		return 2
	}
	reply, err := cl.Do(ctx, args...)
	var replyErr *client.ReplyError
	if err != nil && !errors.As(err, &replyErr) {
		fmt.Fprintf(os.Stderr, "do: %v\n", err)
		return 1
	}
	fmt.Fprintln(w, formatReply(reply))
	return 0
}

func runWatch(cl *client.Client, cfg config.Config, log *slog.Logger) int {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	err := cl.Start(ctx)
	cancel()
	if err != nil {
		// Periodic refreshes keep retrying.
		log.Error("initial topology refresh failed", "error", err)
	}

	var exporter *metrics.Exporter
	if cfg.Metrics.Addr != "" {
		exporter = metrics.NewExporter(cfg.Metrics.Addr, cl.Store())
		if err := exporter.Start(); err != nil {
			log.Error("failed to start metrics exporter", "error", err)
			return 1
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	if exporter != nil {
		if err := exporter.Stop(); err != nil {
			log.Warn("error stopping metrics exporter", "error", err)
		}
	}
	return 0
}
