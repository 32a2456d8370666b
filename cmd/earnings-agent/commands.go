package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/earnings-agent/internal/agent"
	"github.com/stupiduntilnot/earnings-agent/internal/batch"
	"github.com/stupiduntilnot/earnings-agent/internal/console"
	"github.com/stupiduntilnot/earnings-agent/internal/db"
)

// startApp loads and validates the config and builds the app. withModel
// additionally requires provider credentials.
func startApp(cmd *cobra.Command, opts *options, withModel bool) (*app, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	validate := cfg.ValidateFields
	if withModel {
		validate = cfg.Validate
	}
	if err := validate(); err != nil {
		return nil, err
	}
	return newApp(cfg, opts, cmd.ErrOrStderr())
}

func newChatCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive assistant (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, opts)
		},
	}
}

func runChat(cmd *cobra.Command, opts *options) error {
	a, err := startApp(cmd, opts, true)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	guard, err := a.newGuard(opts.sessionID)
	if err != nil {
		return err
	}
	in := cmd.InOrStdin()
	showPrompt := false
	if f, ok := in.(*os.File); ok {
		showPrompt = console.IsTerminal(f)
	}
	repl := &console.REPL{
		In:           in,
		Out:          cmd.OutOrStdout(),
		FirstMessage: a.cfg.FirstMessage,
		ShowPrompt:   showPrompt,
		Ask:          guard.Do,
	}
	return repl.Run(cmd.Context())
}

func newAskCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question...>",
		Short: "Answer one question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := startApp(cmd, opts, true)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			guard, err := a.newGuard(opts.sessionID)
			if err != nil {
				return err
			}
			answer := guard.Do(cmd.Context(), strings.Join(args, " "))
			console.NewRenderer(cmd.OutOrStdout()).Answer(answer)
			if agent.IsError(answer) {
				return fmt.Errorf("model call failed: %s", agent.Class(answer))
			}
			return nil
		},
	}
}

func newQueryCmd(opts *options) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "query <method>",
		Short: "Run one analytics method without the model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := startApp(cmd, opts, false)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			out := a.dispatcher.One(cmd.Context(), batch.Request{Method: args[0], By: by})
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "grouping key for grouped methods")
	return cmd
}

func newBatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <json>",
		Short: `Run a batch such as '[{"method":"income_by_region"}]' without the model`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := batch.Decode([]byte(args[0]))
			if err != nil {
				return err
			}
			a, err := startApp(cmd, opts, false)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			fmt.Fprintln(cmd.OutOrStdout(), a.dispatcher.Run(cmd.Context(), reqs))
			return nil
		},
	}
}

func newMethodsCmd(opts *options) *cobra.Command {
	var tools bool
	cmd := &cobra.Command{
		Use:   "methods",
		Short: "List the analytics methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := startApp(cmd, opts, false)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			out := cmd.OutOrStdout()
			if tools {
				for _, m := range a.tools.MustList() {
					mode := "reply"
					if m.ReturnDirect {
						mode = "direct"
					}
					fmt.Fprintf(out, "%-36s %s\n", m.Name, mode)
				}
				return nil
			}
			for _, m := range a.registry.Methods() {
				name := m.Name
				if m.Grouped {
					name += " (by)"
				}
				fmt.Fprintf(out, "%-36s %s\n", name, m.Description)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&tools, "tools", false, "list the tools offered to the model instead")
	return cmd
}

func newEventsCmd(opts *options) *cobra.Command {
	var (
		eventID   int64
		maxDepth  int
		jsonOut   bool
		noPayload bool
		recent    int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the event tree of the latest run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if cfg.DBPath == "" {
				return fmt.Errorf("events need a database: set --db or EARNINGS_DB_PATH")
			}
			database, err := db.OpenReadOnly(cfg.DBPath)
			if err != nil {
				return err
			}
			defer database.Close()

			out := cmd.OutOrStdout()
			if recent > 0 {
				events, err := db.RecentEvents(database, recent)
				if err != nil {
					return fmt.Errorf("query recent events: %w", err)
				}
				for _, ev := range events {
					fmt.Fprintln(out, db.FormatEvent(ev, noPayload))
				}
				return nil
			}

			rootID := eventID
			if rootID == 0 {
				rootID, err = db.LatestRoot(database)
				if err != nil {
					return fmt.Errorf("find root event: %w", err)
				}
			}
			events, err := db.QuerySubtree(database, rootID)
			if err != nil {
				return fmt.Errorf("query subtree: %w", err)
			}
			root := db.BuildTree(events, rootID)
			if root == nil {
				return fmt.Errorf("event %d not found", rootID)
			}
			if jsonOut {
				return db.WriteJSON(out, root, maxDepth, noPayload)
			}
			db.WriteTree(out, root, maxDepth, noPayload)
			return nil
		},
	}
	f := cmd.Flags()
	f.Int64Var(&eventID, "id", 0, "show subtree of a specific event ID")
	f.IntVarP(&maxDepth, "depth", "L", 0, "limit display depth (0 = unlimited)")
	f.BoolVar(&jsonOut, "json", false, "output JSON format")
	f.BoolVar(&noPayload, "no-payload", false, "hide payload details")
	f.IntVar(&recent, "recent", 0, "list the last N events instead of a tree")
	return cmd
}

