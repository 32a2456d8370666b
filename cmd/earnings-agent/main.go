package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/earnings-agent/internal/config"
)

const serviceName = "earnings-agent"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "[%s] %v\n", serviceName, err)
		stop()
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	dataPath    string
	dbPath      string
	logLevel    string
	provider    string
	metricsAddr string
	tracePath   string
	sessionID   string
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Chat with an analytics assistant over freelancer earnings data",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, opts)
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "YAML config file (default <config dir>/config.yaml)")
	pf.StringVar(&opts.dataPath, "data", "", "freelancer earnings CSV path")
	pf.StringVar(&opts.dbPath, "db", "", "SQLite path for the event log and history")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&opts.provider, "provider", "", "model provider: openai or dummy")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	pf.StringVar(&opts.tracePath, "trace", "", "write spans as JSON to this file")
	pf.StringVar(&opts.sessionID, "session", "", "conversation session id (default: new)")

	root.AddCommand(
		newChatCmd(opts),
		newAskCmd(opts),
		newQueryCmd(opts),
		newBatchCmd(opts),
		newMethodsCmd(opts),
		newEventsCmd(opts),
	)
	return root
}

// loadConfig reads the config and applies the flags that were set.
func loadConfig(cmd *cobra.Command, opts *options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("data") {
		cfg.DataPath = opts.dataPath
	}
	if flags.Changed("db") {
		cfg.DBPath = opts.dbPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("provider") {
		cfg.Provider = opts.provider
	}
	return cfg, nil
}
