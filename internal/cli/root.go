// Package cli builds the cobra command trees for the calendar client and
// the cald daemon.
package cli

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"cald/internal/config"
	"cald/internal/dispatch"
	appLog "cald/internal/log"
)

// RootOptions holds global flags for all client commands.
type RootOptions struct {
	ConfigPath string
	Link       string
	Pipe       string
	LogLevel   string

	fs  afero.Fs
	cfg *config.Config
}

// NewCalendarCommand creates the root command for the calendar client.
func NewCalendarCommand() *cobra.Command {
	return newCalendarCommand(afero.NewOsFs())
}

func newCalendarCommand(fs afero.Fs) *cobra.Command {
	opts := &RootOptions{fs: fs}

	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Query and edit the cald calendar",
		Long: `Query the calendar database published by cald, and send it
ADD, DEL and UPD requests over the command pipe.

Dates are written DD-MM-YYYY. Event names are single words.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.Link, "link", "", "link file naming the database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Pipe, "pipe", "", "command pipe (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info or error")

	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewMutationCommands(opts)...)
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))

	return cmd
}

// load reads the config file and applies flag overrides.
func (o *RootOptions) load() error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.Link != "" {
		cfg.Link = o.Link
	}
	if o.Pipe != "" {
		cfg.Pipe = o.Pipe
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	cfg.Normalize()

	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	appLog.SetFormat(cfg.LogFormat)
	o.cfg = cfg
	return nil
}

// Execute runs cmd and reports a failure as a single line on its error
// stream. It returns the process exit code.
func Execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), dispatch.Message(err))
		return 1
	}
	return 0
}
