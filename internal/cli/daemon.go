package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"cald/internal/config"
	"cald/internal/daemon"
	appLog "cald/internal/log"
)

// DaemonOptions holds the cald flags. Non-empty values override the config
// file.
type DaemonOptions struct {
	ConfigPath   string
	Pipe         string
	Link         string
	ErrorLog     string
	LogLevel     string
	StatusListen string
}

// NewDaemonCommand creates the root command for cald.
func NewDaemonCommand() *cobra.Command {
	opts := &DaemonOptions{}

	cmd := &cobra.Command{
		Use:   "cald [database]",
		Short: "cald - calendar daemon",
		Long: `cald owns the calendar database and applies ADD, DEL and UPD
requests read from the command pipe, one at a time, until it receives
SIGINT or SIGTERM.

The absolute database path is published to the link file so that the
calendar client can read it.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(args)
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to config file")
	cmd.Flags().StringVar(&opts.Pipe, "pipe", "", "command pipe (default "+config.DefaultPipe+")")
	cmd.Flags().StringVar(&opts.Link, "link", "", "link file (default "+config.DefaultLink+")")
	cmd.Flags().StringVar(&opts.ErrorLog, "error-log", "", "error log file (default "+config.DefaultErrorLog+")")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info or error")
	cmd.Flags().StringVar(&opts.StatusListen, "status-listen", "", "status HTTP listen address, e.g. 127.0.0.1:9321")

	return cmd
}

// config loads the config file and applies flags and the positional
// database path.
func (o *DaemonOptions) config(args []string) (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		cfg.Database = args[0]
	}
	if o.Pipe != "" {
		cfg.Pipe = o.Pipe
	}
	if o.Link != "" {
		cfg.Link = o.Link
	}
	if o.ErrorLog != "" {
		cfg.ErrorLog = o.ErrorLog
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.StatusListen != "" {
		cfg.Status.Listen = o.StatusListen
	}
	cfg.Normalize()
	return cfg, nil
}

func runDaemon(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	appLog.SetFormat(cfg.LogFormat)
	logFile, err := appLog.OpenFile(cfg.ErrorLog)
	if err != nil {
		return err
	}
	defer logFile.Close()

	appLog.Info("cald starting",
		"database", cfg.Database,
		"pipe", cfg.Pipe,
		"link", cfg.Link,
		"backup_schedule", cfg.Backup.Schedule,
		"status_listen", cfg.Status.Listen,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := daemon.New(cfg, afero.NewOsFs()).Run(ctx); err != nil {
		appLog.Error("cald failed", err)
		return err
	}
	appLog.Info("cald exiting")
	return nil
}
