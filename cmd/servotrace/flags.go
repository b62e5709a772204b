package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/servotrace/internal/config"
)

// options holds the parsed command line of one subcommand.
type options struct {
	command    string
	configPath string
	source     string
	dev        bool
	profile    string
	modules    int
	listen     string
	duration   time.Duration

	// log
	out    string
	sqlite string

	// plot
	window     time.Duration
	png        string
	pngEvery   time.Duration
	assetsHost string

	// stats
	interval time.Duration
}

func newFlagSet(command string, opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "JSON session config file")
	fs.StringVar(&opts.source, "source", "", "frame source URI (overrides config)")
	fs.BoolVar(&opts.dev, "dev", false, "use the synthetic mock source")
	fs.StringVar(&opts.profile, "profile", "", "decode profile: command_response or range")
	fs.IntVar(&opts.modules, "modules", 0, "number of modules (overrides config)")

	switch command {
	case "log":
		fs.DurationVar(&opts.duration, "duration", 60*time.Second, "recording duration (0 records until interrupted)")
		fs.StringVar(&opts.out, "out", "", "CSV export directory (overrides config export_dir)")
		fs.StringVar(&opts.sqlite, "sqlite", "", "also export to this SQLite database")
		fs.StringVar(&opts.listen, "listen", "", "serve debug routes on this address")
	case "plot":
		fs.DurationVar(&opts.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
		fs.DurationVar(&opts.window, "window", 0, "visible time window (overrides config)")
		fs.StringVar(&opts.png, "png", "", "also write PNG snapshots to this path")
		fs.DurationVar(&opts.pngEvery, "png-every", time.Second, "minimum time between PNG snapshots")
		fs.StringVar(&opts.listen, "listen", ":8080", "serve the live chart on this address")
		fs.StringVar(&opts.assetsHost, "assets-host", "", "host serving the echarts javascript")
	case "stats":
		fs.DurationVar(&opts.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
		fs.DurationVar(&opts.interval, "interval", 0, "reporting interval (overrides config stats_interval)")
		fs.StringVar(&opts.listen, "listen", "", "serve debug routes on this address")
	}
	return fs
}

func parseFlags(command string, args []string) (*options, error) {
	return parseFlagsOutput(command, args, nil)
}

func parseFlagsOutput(command string, args []string, output io.Writer) (*options, error) {
	opts := &options{command: command}
	fs := newFlagSet(command, opts)
	if output != nil {
		fs.SetOutput(output)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.duration < 0 {
		return nil, fmt.Errorf("--duration must not be negative")
	}
	if opts.dev && opts.source != "" {
		return nil, fmt.Errorf("--dev and --source are mutually exclusive")
	}
	return opts, nil
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(opts *options) (*config.Config, error) {
	cfg := &config.Config{}
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	}
	if opts.dev {
		cfg.Source = strPtr("mock")
	} else if opts.source != "" {
		cfg.Source = strPtr(opts.source)
	}
	if opts.profile != "" {
		cfg.ProfileName = strPtr(opts.profile)
	}
	if opts.modules > 0 {
		cfg.Modules = &opts.modules
	}
	if opts.out != "" {
		cfg.ExportDir = strPtr(opts.out)
	}
	if opts.sqlite != "" {
		cfg.SQLitePath = strPtr(opts.sqlite)
	}
	if opts.window > 0 {
		cfg.Window = strPtr(opts.window.String())
	}
	if opts.interval > 0 {
		cfg.StatsInterval = strPtr(opts.interval.String())
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func strPtr(s string) *string { return &s }
