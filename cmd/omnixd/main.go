package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot creates the root command and wires all subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	serveFlags := &ServeFlags{}
	upFlags := &UpFlags{}
	downFlags := &DownFlags{}
	statusFlags := &StatusFlags{}
	startFlags := &ServiceFlags{}
	stopFlags := &ServiceFlags{}
	restartFlags := &ServiceFlags{}
	validateFlags := &ValidateFlags{}
	templateFlags := &TemplateCreateFlags{}

	omnixdCommand := command{}

	root := createRootCommand(globalFlags)

	// Add subcommands
	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createUpCommand(globalFlags, upFlags),
		createDownCommand(omnixdCommand, downFlags),
		createStatusCommand(omnixdCommand, statusFlags),
		createStartCommand(omnixdCommand, startFlags),
		createStopCommand(omnixdCommand, stopFlags),
		createRestartCommand(omnixdCommand, restartFlags),
		createValidateCommand(globalFlags, validateFlags),
		createTemplateCommand(omnixdCommand, templateFlags),
		createVersionCommand(),
	)

	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "omnixd",
		Short: "Sequential supervisor for the omnix voice stack",
		Long: `Omnixd launches the omnix backend services in declared order, gates each
launch on the health of the previous one, watches for crashes, and tears
the stack down in reverse on shutdown.

Examples:
  omnixd serve --config=config.toml              # Run the daemon
  omnixd up --config=config.toml                 # Run the stack in the foreground
  omnixd status                                  # Statuses from the local daemon
  omnixd status --api-url=http://remote:9001     # Statuses from a remote daemon`,
	}

	// Only essential flags for CLI commands
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")

	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the omnixd daemon",
		Long: `Run the omnixd daemon: bring the stack up in declared order, serve the
control-plane API, and keep watching the services until a shutdown signal.

Examples:
  omnixd serve --config=config.toml   # Start daemon
  omnixd serve config.toml            # Config as positional argument
  omnixd serve config.toml --daemonize  # Run in background ([server].pidfile names the daemon pidfile)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServeCommand(serveFlags, args)
		},
	}

	// Add daemonize flags
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon logs to file")

	return cmd
}

// createUpCommand creates the up subcommand
func createUpCommand(globalFlags *GlobalFlags, upFlags *UpFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "up [config.toml]",
		Short: "Bring the stack up in the foreground",
		Long: `Bring the stack up in declared order and wait. No control-plane API is
served; Ctrl-C tears the stack down in reverse launch order.

Examples:
  omnixd up --config=config.toml
  omnixd up config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			upFlags.ConfigPath = globalFlags.ConfigPath
			return runUpCommand(upFlags, args)
		},
	}
}

// createDownCommand creates the down subcommand
func createDownCommand(omnixdCommand command, downFlags *DownFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop every running service via the daemon",
		Long: `Stop every running service in reverse launch order through the daemon API.
The daemon itself keeps running; services can be started again with
'omnixd start'.

Examples:
  omnixd down
  omnixd down --api-url=http://remote:9001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return omnixdCommand.Down(DownFlags{
				APIUrl:     downFlags.APIUrl,
				APITimeout: downFlags.APITimeout,
			})
		},
	}

	addAPIFlags(cmd, &downFlags.APIUrl, &downFlags.APITimeout, 60*time.Second)

	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(omnixdCommand command, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service statuses",
		Long: `Show the status of one service or of the whole stack in declared order.

Examples:
  omnixd status
  omnixd status --name=stt
  omnixd status --report            # Last startup report instead of statuses`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return omnixdCommand.Status(StatusFlags{
				Name:       statusFlags.Name,
				Report:     statusFlags.Report,
				APIUrl:     statusFlags.APIUrl,
				APITimeout: statusFlags.APITimeout,
			})
		},
	}

	cmd.Flags().StringVar(&statusFlags.Name, "name", "", "service name (all services when omitted)")
	cmd.Flags().BoolVar(&statusFlags.Report, "report", false, "print the last startup report")
	addAPIFlags(cmd, &statusFlags.APIUrl, &statusFlags.APITimeout, 10*time.Second)

	return cmd
}

// createStartCommand creates the start subcommand
func createStartCommand(omnixdCommand command, startFlags *ServiceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start one service",
		Long: `Start one declared service and wait for its health gate.

Examples:
  omnixd start --name=tts
  omnixd start --name=llama --api-url=http://remote:9001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return omnixdCommand.Start(ServiceFlags{
				Name:       startFlags.Name,
				APIUrl:     startFlags.APIUrl,
				APITimeout: startFlags.APITimeout,
			})
		},
	}

	cmd.Flags().StringVar(&startFlags.Name, "name", "", "service name (required)")
	addAPIFlags(cmd, &startFlags.APIUrl, &startFlags.APITimeout, 5*time.Minute)

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand(omnixdCommand command, stopFlags *ServiceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop one service",
		Long: `Stop one service gracefully; after the grace period it is killed.

Examples:
  omnixd stop --name=tts`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return omnixdCommand.Stop(ServiceFlags{
				Name:       stopFlags.Name,
				APIUrl:     stopFlags.APIUrl,
				APITimeout: stopFlags.APITimeout,
			})
		},
	}

	cmd.Flags().StringVar(&stopFlags.Name, "name", "", "service name (required)")
	addAPIFlags(cmd, &stopFlags.APIUrl, &stopFlags.APITimeout, 60*time.Second)

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	return cmd
}

// createRestartCommand creates the restart subcommand
func createRestartCommand(omnixdCommand command, restartFlags *ServiceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart one service",
		Long: `Stop one service and launch it again, waiting for its health gate.
Crashed services are not restarted automatically; this is the operator's
way to bring one back.

Examples:
  omnixd restart --name=realtime`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return omnixdCommand.Restart(ServiceFlags{
				Name:       restartFlags.Name,
				APIUrl:     restartFlags.APIUrl,
				APITimeout: restartFlags.APITimeout,
			})
		},
	}

	cmd.Flags().StringVar(&restartFlags.Name, "name", "", "service name (required)")
	addAPIFlags(cmd, &restartFlags.APIUrl, &restartFlags.APITimeout, 5*time.Minute)

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	return cmd
}

// createValidateCommand creates the validate subcommand
func createValidateCommand(globalFlags *GlobalFlags, validateFlags *ValidateFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config.toml]",
		Short: "Validate a config file",
		Long: `Load a config file and run the full spec validation: unique names and
ports, well-formed commands and health URLs, port overrides applied.

Examples:
  omnixd validate --config=config.toml
  omnixd validate config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			validateFlags.ConfigPath = globalFlags.ConfigPath
			return runValidateCommand(validateFlags, args)
		},
	}
}

// createTemplateCommand creates the template subcommand
func createTemplateCommand(omnixdCommand command, templateFlags *TemplateCreateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Generate a service config template",
		Long: `Generate a TOML config template for one service kind or for the whole
stack, with the conventional ports and health endpoints filled in.

Examples:
  omnixd template --kind=stt
  omnixd template --kind=stack --output=config.toml
  omnixd template --kind=tts --name=kokoro --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return omnixdCommand.TemplateCreate(TemplateCreateFlags{
				Kind:   templateFlags.Kind,
				Name:   templateFlags.Name,
				Output: templateFlags.Output,
				Force:  templateFlags.Force,
			})
		},
	}

	cmd.Flags().StringVar(&templateFlags.Kind, "kind", "", "template kind (required)")
	cmd.Flags().StringVar(&templateFlags.Name, "name", "", "service name (defaults to the kind)")
	cmd.Flags().StringVar(&templateFlags.Output, "output", "", "output file path")
	cmd.Flags().BoolVar(&templateFlags.Force, "force", false, "overwrite existing file")

	if err := cmd.MarkFlagRequired("kind"); err != nil {
		panic(err)
	}

	return cmd
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the omnixd version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("omnixd %s\n", version)
		},
	}
}

// addAPIFlags registers the daemon connection flags shared by client commands.
func addAPIFlags(cmd *cobra.Command, apiURL *string, apiTimeout *time.Duration, defTimeout time.Duration) {
	cmd.Flags().StringVar(apiURL, "api-url", "", "daemon URL (e.g. http://host:9001)")
	cmd.Flags().DurationVar(apiTimeout, "api-timeout", defTimeout, "request timeout")
}
