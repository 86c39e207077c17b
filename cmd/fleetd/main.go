package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/fleetd"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRoot(runFleet, runService)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// RootFlags holds the flags shared by the supervisor and its children.
type RootFlags struct {
	ConfigPath string
	API        string
	Verbose    bool
	NoStudio   bool
	MLConsumer bool
}

func (f *RootFlags) options(apiSet bool) fleetd.Options {
	return fleetd.Options{
		ConfigPath: f.ConfigPath,
		API:        f.API,
		APISet:     apiSet,
		Verbose:    f.Verbose,
		NoStudio:   f.NoStudio,
		MLConsumer: f.MLConsumer,
		Version:    version,
	}
}

type (
	fleetFunc   func(ctx context.Context, o fleetd.Options) error
	serviceFunc func(ctx context.Context, name string, o fleetd.Options) error
)

// buildRoot wires the command tree; the run functions are injected so the
// tree can be tested without launching anything.
func buildRoot(fleet fleetFunc, svc serviceFunc) *cobra.Command {
	flags := &RootFlags{}
	root := &cobra.Command{
		Use:   "fleetd",
		Short: "Supervise the platform's api and worker processes",
		Long: `fleetd launches the selected api services and the background workers as
separate processes, waits for their ports, restarts crashed workers within
a rate limit and stops everything together on SIGINT or SIGTERM.

Examples:
  fleetd                              # default apis (http, mysql)
  fleetd --api=http,postgres          # selected apis
  fleetd --api=""                     # workers only
  fleetd --config=fleetd.toml --verbose`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return fleet(cmd.Context(), flags.options(cmd.Flags().Changed("api")))
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	pf.BoolVar(&flags.Verbose, "verbose", false, "debug logging")
	pf.BoolVar(&flags.NoStudio, "no-studio", false, "do not open the studio in a browser")
	root.Flags().StringVar(&flags.API, "api", "", "comma separated apis to start (http, mysql, mongodb, postgres, mcp)")
	root.Flags().BoolVar(&flags.MLConsumer, "ml-task-queue-consumer", false, "also run the ml task queue consumer")

	root.AddCommand(
		createServiceCommand(flags, svc),
		createStatusCommand(),
		createReconcileCommand(),
		createHashPasswordCommand(),
		createInitCommand(),
	)
	return root
}

// createServiceCommand is what the supervisor re-executes for each child.
func createServiceCommand(flags *RootFlags, svc serviceFunc) *cobra.Command {
	return &cobra.Command{
		Use:    "service <name>",
		Short:  "Run one service in the foreground",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc(cmd.Context(), args[0], flags.options(false))
		},
	}
}

func runFleet(ctx context.Context, o fleetd.Options) error {
	app, err := fleetd.New(o)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()
	app.Banner()
	if err := app.Boot(ctx); err != nil {
		return err
	}
	return app.Run(ctx)
}

func runService(ctx context.Context, name string, o fleetd.Options) error {
	return fleetd.RunService(ctx, name, o)
}
