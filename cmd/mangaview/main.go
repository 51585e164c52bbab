package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/islishude/mangaview/internal/cli"
	"github.com/islishude/mangaview/internal/config"
	"github.com/islishude/mangaview/internal/engine"
	"github.com/islishude/mangaview/internal/logger"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	// A missing .env is not an error.
	_ = godotenv.Load()

	opts, err := cli.Parse(args[1:])
	if err != nil {
		return fatal(err)
	}
	if opts.Help {
		_, _ = fmt.Fprint(os.Stdout, cli.HelpText(filepath.Base(args[0])))
		return engine.ExitSuccess
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fatal(err)
	}
	cfg = opts.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fatal(err)
	}

	var logOut io.Writer = os.Stderr
	if cfg.LogFile != "" {
		f, err := logger.OpenFile(cfg.LogFile)
		if err != nil {
			return fatal(err)
		}
		defer f.Close()
		logOut = f
	}
	logger.Init(cfg.LogLevel, logOut)
	logger.Debug("configuration loaded", "workers", cfg.Workers, "lookahead", cfg.Lookahead, "charset", cfg.HeaderCharset)

	basectx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	runner, err := engine.New(cfg, os.Stdout, os.Stderr)
	if err != nil {
		return fatal(err)
	}
	defer runner.Close()

	result := runner.Run(basectx, opts)
	if result.Err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "mangaview: %v\n", result.Err)
	}
	return result.ExitCode
}

func fatal(err error) int {
	_, _ = fmt.Fprintf(os.Stderr, "mangaview: %v\n", err)
	return engine.ExitFatal
}
