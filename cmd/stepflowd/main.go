// Command stepflowd serves the stepflow HTTP API, or runs a single pipeline
// file and exits with its outcome.
//
//	stepflowd -config config.yml
//	stepflowd -config config.yml -run pipelines/train.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kbukum/stepflow/app"
	"github.com/kbukum/stepflow/config"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/orchestrator"
	"github.com/kbukum/stepflow/run"
	"github.com/kbukum/stepflow/version"
)

const serviceName = "stepflowd"

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	var (
		configFile  = fs.String("config", "", "config file (default: search config.yml near the binary and cwd)")
		envFile     = fs.String("env", "", ".env file")
		pipeline    = fs.String("run", "", "run this pipeline file once and exit")
		runName     = fs.String("name", "", "run name for -run")
		noCache     = fs.Bool("no-cache", false, "disable caching for -run")
		showVersion = fs.Bool("version", false, "print the version and exit")
	)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	info := version.Get()
	if *showVersion {
		fmt.Println(info)
		return exitOK
	}

	cfg := &app.Config{}
	cfg.Version = info.Short()
	var opts []config.LoaderOption
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	}
	if *envFile != "" {
		opts = append(opts, config.WithEnvFile(*envFile))
	}
	if err := config.LoadConfig(serviceName, cfg, opts...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	if *pipeline == "" {
		if err := a.Run(context.Background()); err != nil {
			a.Logger.Error("Daemon stopped", logger.Fields(logger.FieldError, err.Error()))
			return exitFailed
		}
		return exitOK
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := orchestrator.Request{RunName: *runName}
	if *noCache {
		off := false
		req.Caching = &off
	}
	var res *run.Result
	err = a.RunTask(ctx, func(ctx context.Context) error {
		var err error
		res, err = a.RunPipelineFile(ctx, *pipeline, req)
		return err
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			a.Logger.Error("Run failed", logger.Fields(logger.FieldError, err.Error()))
		}
		return exitFailed
	}
	a.Logger.Info("Run finished", logger.Fields(
		logger.FieldRun, res.RunID,
		logger.FieldRunName, res.Name,
		"status", string(res.Status),
		"counts", res.Counts(),
	))
	if res.Status != run.StatusCompleted {
		return exitFailed
	}
	return exitOK
}
