package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"proofjudge/internal/cli/command"
	"proofjudge/internal/cli/config"
	httpclient "proofjudge/internal/cli/http"
	"proofjudge/internal/cli/repl"
	"proofjudge/internal/evaluation/client"
	"proofjudge/internal/evaluation/synchronizer"
	"proofjudge/internal/evaluation/workflow"
	"proofjudge/pkg/utils/logger"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	pollInterval := flag.Duration("poll", 0, "Override poll interval (e.g. 5s)")
	token := flag.String("token", "", "Override access token")
	pretty := flag.Bool("pretty", false, "Pretty print JSON output")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *pollInterval > 0 {
		cfg.PollInterval = *pollInterval
	}
	if *token != "" {
		cfg.Token = *token
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	credentials := &repl.Credentials{}
	credentials.SetToken(cfg.Token)

	transport := httpclient.New(cfg.BaseURL, httpclient.Options{
		Timeout:           cfg.Timeout,
		CompressThreshold: cfg.CompressThreshold,
		TokenProvider:     credentials.Token,
	})
	resources := client.New(transport)

	commands := command.Registry()
	rl, err := repl.NewReadline(cfg.HistoryFile, commands)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init terminal failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()

	env := &command.Env{Problems: resources}
	session := repl.New(transport, env, commands, credentials, rl, rl.Stdout(), cfg.PrettyOutput())
	env.Workflow = workflow.NewController(resources, synchronizer.Config{
		Interval:       cfg.PollInterval,
		MaxMisses:      cfg.MaxPollMisses,
		RequestTimeout: cfg.Timeout,
	}, session.Hooks())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := session.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}
}
