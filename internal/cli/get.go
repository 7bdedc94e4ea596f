package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"cald/internal/model"
	"cald/internal/query"
)

var errNoPrefix = errors.New("please specify a name prefix")

// NewGetCommand creates the GET command and its DATE, INTERVAL and NAME
// queries.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "GET",
		Aliases: []string{"get"},
		Short:   "Query events from the calendar database",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "DATE date...",
		Aliases: []string{"date"},
		Short:   "Events on any of the given dates",
		Long: `Print events whose date equals any of the given dates.
Dates that fail to parse are reported and skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var dates []model.Date
			for _, arg := range args {
				d, err := model.ParseDate(arg)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Unable to parse date: %s\n", arg)
					continue
				}
				dates = append(dates, d)
			}

			events, err := query.Load(rootOpts.fs, rootOpts.cfg.Link)
			if err != nil {
				return err
			}
			return query.Print(cmd.OutOrStdout(), query.ByDates(events, dates))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "INTERVAL start end",
		Aliases: []string{"interval"},
		Short:   "Events between two dates, inclusive",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := model.ParseDate(args[0])
			if err != nil {
				return err
			}
			end, err := model.ParseDate(args[1])
			if err != nil {
				return err
			}

			events, err := query.Load(rootOpts.fs, rootOpts.cfg.Link)
			if err != nil {
				return err
			}
			matched, err := query.ByInterval(events, start, end)
			if err != nil {
				return err
			}
			return query.Print(cmd.OutOrStdout(), matched)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "NAME prefix...",
		Aliases: []string{"name"},
		Short:   "Events whose name starts with any of the given prefixes",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errNoPrefix
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := query.Load(rootOpts.fs, rootOpts.cfg.Link)
			if err != nil {
				return err
			}
			return query.Print(cmd.OutOrStdout(), query.ByNamePrefix(events, args))
		},
	})

	return cmd
}
