// Package cli provides the command-line interface of aozan.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GenomiqueENS/aozan/internal/config"
	"github.com/GenomiqueENS/aozan/internal/logging"
	"github.com/GenomiqueENS/aozan/internal/version"
)

var (
	// Global flags
	quiet       bool
	exitCode    bool
	printConf   bool
	showVersion bool
	debug       bool

	// Global logger, replaced by the configured one during an invocation
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// errUsage is returned when the positional configuration file is missing.
var errUsage = errors.New("a configuration file is required")

// NewRootCmd creates the root command. Without subcommand it runs one
// invocation of the pipeline for the configuration file given as argument.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aozan [flags] <conf>",
		Short: "Aozan - sequencer run pipeline orchestrator",
		Long: `Aozan ` + version.Version + ` - Built: ` + version.BuildTime + `
Detects the runs of the sequencers, synchronizes them to the bcl storage,
demultiplexes them, recompresses the FASTQ files and computes the quality
control reports. Each invocation handles the pending work then exits; it is
meant to be run periodically from cron or with the schedule command.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefaultCLILogger()
			if debug {
				logging.SetGlobalLevel(-1) // Debug level (zerolog.DebugLevel)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if showVersion {
				fmt.Fprintln(out, version.WelcomeMessage())
				return nil
			}
			if printConf {
				return config.WriteDefaults(out)
			}
			if len(args) != 1 {
				_ = cmd.Usage()
				return errUsage
			}
			return Invoke(GetContext(), args[0], Options{
				Quiet:    quiet,
				ExitCode: exitCode,
				Debug:    debug,
				Stderr:   cmd.ErrOrStderr(),
			})
		},
	}

	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the lock file message on stderr")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Print the version and exit")
	rootCmd.Flags().BoolVarP(&exitCode, "exit-code", "e", false, "Exit with code 1 when a step failed")
	rootCmd.Flags().BoolVarP(&printConf, "conf", "c", false, "Print the default configuration and exit")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	// Create a context that can be cancelled by signals
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "Received signal %v, stopping after the current step\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	printError(os.Stderr, err)
	return err
}

// printError prints err the way the operator expects it on stderr. A step
// failure was already logged and alerted.
func printError(w io.Writer, err error) {
	if err == nil || errors.Is(err, ErrStepFailed) {
		return
	}
	fmt.Fprintf(w, "ERROR: Aozan can not be executed. %v\n", err)
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newScheduleCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.WelcomeMessage())
		},
	}
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context with signal handling.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}
