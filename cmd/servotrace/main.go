package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/servotrace/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command, args := os.Args[1], os.Args[2:]
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case "log":
		err = runCommand(ctx, command, args, runLog)
	case "plot":
		err = runCommand(ctx, command, args, runPlot)
	case "stats":
		err = runCommand(ctx, command, args, runStats)
	case "version":
		fmt.Println(version.String())
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("%s: %v", command, err)
	}
}

func runCommand(ctx context.Context, name string, args []string, run func(context.Context, *options) error) error {
	opts, err := parseFlags(name, args)
	if err != nil {
		return err
	}
	return run(ctx, opts)
}

func printUsage() {
	fmt.Println(`servotrace - CAN servo telemetry logger and live plotter

Usage: servotrace <command> [options]

Commands:
  log        Record command and servo frames, then export per-module CSV
             (and optionally SQLite) when the duration elapses or on Ctrl-C
  plot       Serve a live chart of command vs. feedback angles per module
  stats      Report frame rates per class and control/feedback balance
  version    Show servotrace version
  help       Show this help message

Common Flags:
  --config <file>      JSON session config (see config/servotrace.defaults.json)
  --source <uri>       Frame source: socketcan:can0, slcan:/dev/ttyACM0,
                       udp::8881, pcap:capture.pcap or mock
  --dev                Use the synthetic mock source
  --profile <name>     command_response or range
  --modules <n>        Number of modules (joints)
  --listen <addr>      Serve debug routes on addr (e.g. :8080)
  --duration <d>       Stop after d (0 runs until interrupted)

Run 'servotrace <command> -h' for command specific flags.`)
}
