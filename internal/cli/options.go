package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/islishude/mangaview/internal/config"
)

type Mode string

const (
	ModeNone    Mode = ""
	ModeList    Mode = "list"
	ModeInfo    Mode = "info"
	ModeBatch   Mode = "batch"
	ModeFolders Mode = "folders"
	ModeCheck   Mode = "check"
)

var modes = []Mode{ModeList, ModeInfo, ModeBatch, ModeFolders, ModeCheck}

type Options struct {
	Mode     Mode
	Target   string
	Config   string
	LogLevel string
	// Workers and Lookahead are nil unless given on the command line.
	Workers   *int
	Lookahead *int
	Metrics   bool
	Verbose   bool
	Help      bool
	// EnableLongPaths asks check to turn on extended path support first.
	EnableLongPaths bool
}

func Parse(args []string) (Options, error) {
	var opts Options
	fs := pflag.NewFlagSet("mangaview", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false

	var workers, lookahead int
	fs.StringVarP(&opts.Config, "config", "c", "", "")
	fs.StringVarP(&opts.LogLevel, "log-level", "l", "", "")
	fs.IntVarP(&workers, "workers", "w", 0, "")
	fs.IntVar(&lookahead, "lookahead", 0, "")
	fs.BoolVar(&opts.Metrics, "metrics", false, "")
	fs.BoolVar(&opts.EnableLongPaths, "enable-long-paths", false, "")
	fs.BoolVarP(&opts.Verbose, "verbose", "v", false, "")
	fs.BoolVarP(&opts.Help, "help", "h", false, "")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.Help {
		return opts, nil
	}
	if fs.Changed("workers") {
		if workers < 1 {
			return opts, fmt.Errorf("option --workers requires a positive integer")
		}
		opts.Workers = &workers
	}
	if fs.Changed("lookahead") {
		if lookahead < 0 {
			return opts, fmt.Errorf("option --lookahead requires a non-negative integer")
		}
		opts.Lookahead = &lookahead
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return opts, fmt.Errorf("no command specified")
	}
	mode, err := parseMode(rest[0])
	if err != nil {
		return opts, err
	}
	opts.Mode = mode
	switch len(rest) {
	case 1:
		return opts, fmt.Errorf("command %s requires a target", mode)
	case 2:
		opts.Target = rest[1]
	default:
		return opts, fmt.Errorf("command %s takes one target, got %d", mode, len(rest)-1)
	}
	return opts, nil
}

func parseMode(v string) (Mode, error) {
	for _, m := range modes {
		if strings.EqualFold(v, string(m)) {
			return m, nil
		}
	}
	return ModeNone, fmt.Errorf("unknown command %q", v)
}

// Apply overlays the command-line settings on c. Verbose raises the log
// level to debug unless a level was given explicitly.
func (o Options) Apply(c config.Config) config.Config {
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	} else if o.Verbose {
		c.LogLevel = "debug"
	}
	if o.Workers != nil {
		c.Workers = *o.Workers
	}
	if o.Lookahead != nil {
		c.Lookahead = *o.Lookahead
	}
	return c
}
