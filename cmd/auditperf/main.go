// Package main runs the audit performance service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/auditvault/auditperf/internal/adapter"
	"github.com/auditvault/auditperf/internal/config"
	"github.com/auditvault/auditperf/pkg/utils"
)

const shutdownTimeout = 30 * time.Second

type options struct {
	configPath  string
	check       bool
	printConfig bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	if opts.printConfig {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err.Error())
			return 1
		}
		_, _ = stdout.Write(data)
		return 0
	}
	if opts.check {
		_, _ = fmt.Fprintln(stdout, "configuration OK")
		return 0
	}

	logger, closer, err := utils.NewLogger(utils.LoggerOptions{
		Level:  cfg.Global.LogLevel,
		Format: utils.LogFormat(cfg.Global.LogFormat),
		File:   cfg.Global.LogFile,
		Output: stderr,
	})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer closer.Close()

	svc, err := adapter.New(ctx, cfg, adapter.WithLogger(logger))
	if err != nil {
		logger.Error("failed to build service", "error", err)
		return 1
	}
	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start service", "error", err)
		return 1
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		return 1
	}
	return 0
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("auditperf", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", os.Getenv("AUDITPERF_CONFIG"), "path to a YAML or TOML configuration file")
	fs.BoolVar(&opts.check, "check", false, "validate the configuration and exit")
	fs.BoolVar(&opts.printConfig, "print-config", false, "print the effective configuration as YAML and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		err := fmt.Errorf("unexpected arguments: %v", fs.Args())
		_, _ = fmt.Fprintln(stderr, err.Error())
		return opts, err
	}
	return opts, nil
}

// loadConfig layers the defaults, the optional file and AUDITPERF_*
// variables, then validates the result.
func loadConfig(path string) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
