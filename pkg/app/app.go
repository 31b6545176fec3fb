// Package app is the command scaffold shared by the skyrelay binaries:
// cobra for the command line, viper for config files and environment, and
// the common logger.
package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"
	"k8s.io/component-base/term"

	"github.com/autopeer-io/skyrelay/pkg/log"
)

// RunFunc is the body of a command.
type RunFunc func() error

// App is a command line application.
type App struct {
	basename    string
	name        string
	description string
	options     NamedFlagSetOptions
	runFunc     RunFunc
	args        cobra.PositionalArgs
	cmd         *cobra.Command
}

// Option configures an App.
type Option func(*App)

// WithOptions sets the option struct bound to flags, config and environment.
func WithOptions(opt NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opt }
}

// WithRunFunc sets the command body.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

// WithDescription sets the long description.
func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithValidArgs sets the positional argument validator.
func WithValidArgs(args cobra.PositionalArgs) Option {
	return func(a *App) { a.args = args }
}

// WithDefaultValidArgs rejects any positional argument.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// NewApp creates an App named basename.
func NewApp(basename, name string, opts ...Option) *App {
	a := &App{basename: basename, name: name}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

// Command returns the underlying cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the command and exits the process with status 1 on error.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.basename,
		Short:         a.name,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	var namedFlagSets cliflag.NamedFlagSets
	if a.options != nil {
		namedFlagSets = a.options.Flags()
	}
	addConfigFlag(a.basename, namedFlagSets.FlagSet("global"))
	globalflag.AddGlobalFlags(namedFlagSets.FlagSet("global"), cmd.Name())

	fs := cmd.Flags()
	for _, f := range namedFlagSets.FlagSets {
		fs.AddFlagSet(f)
	}

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, namedFlagSets, cols)

	if a.runFunc != nil {
		cmd.RunE = a.runCommand
	}
	a.cmd = cmd
}

func (a *App) runCommand(cmd *cobra.Command, _ []string) error {
	if err := loadConfig(a.basename, cmd.Flags()); err != nil {
		return err
	}

	if a.options != nil {
		if err := viper.Unmarshal(a.options); err != nil {
			return fmt.Errorf("failed to decode configuration: %w", err)
		}
		if err := a.options.Complete(); err != nil {
			return err
		}
		if err := a.options.Validate(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "invalid options: %v\n", err)
			return err
		}
	}

	initLogging(a.options)
	defer func() { _ = log.Sync() }()

	watchConfig()
	if f := viper.ConfigFileUsed(); f != "" {
		log.Info("Using config file", "file", f)
	}

	if err := a.runFunc(); err != nil {
		log.Error(err, "Command failed", "command", a.basename)
		return err
	}
	return nil
}

// logOptionsHolder is implemented by option structs that carry log options.
type logOptionsHolder interface {
	LogOptions() *log.Options
}

func initLogging(opts NamedFlagSetOptions) {
	lo := log.NewOptions()
	if h, ok := opts.(logOptionsHolder); ok && h.LogOptions() != nil {
		lo = h.LogOptions()
	}
	log.Init(lo)
}
