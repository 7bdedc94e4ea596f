package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"cald/internal/atomicfile"
	"cald/internal/codec"
	"cald/internal/ics"
	"cald/internal/model"
	"cald/internal/query"
)

// NewExportCommand creates the EXPORT command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "EXPORT",
		Aliases: []string{"export"},
		Short:   "Write the calendar as an iCalendar document",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := query.Load(rootOpts.fs, rootOpts.cfg.Link)
			if err != nil {
				return err
			}
			exportCfg := ics.ExportConfig{
				ProductID: rootOpts.cfg.Export.ProductID,
				Location:  rootOpts.cfg.Location(),
			}
			write := func(w io.Writer) error { return ics.Export(w, events, exportCfg) }

			if output == "" || output == "-" {
				return write(cmd.OutOrStdout())
			}
			if err := atomicfile.WriteFunc(rootOpts.fs, output, 0o644, write); err != nil {
				return errors.WithMessagef(err, "writing %s", output)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d events to %s\n", len(events), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	return cmd
}

// ImportOptions holds flags for the IMPORT command.
type ImportOptions struct {
	From   string
	To     string
	DryRun bool
}

// NewImportCommand creates the IMPORT command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{}

	cmd := &cobra.Command{
		Use:     "IMPORT source",
		Aliases: []string{"import"},
		Short:   "Add the events of an .ics file or URL",
		Long: `Read an iCalendar document from a local file or an http(s) URL,
expand recurring events inside the window, and send one ADD request per
occurrence. Names are sanitized to single words.

The window defaults to today through one year ahead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, rootOpts, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.From, "from", "", "first day to import (DD-MM-YYYY, default today)")
	cmd.Flags().StringVar(&opts.To, "to", "", "last day to import (DD-MM-YYYY, default one year from --from)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the requests instead of sending them")

	return cmd
}

func runImport(cmd *cobra.Command, rootOpts *RootOptions, opts *ImportOptions, source string) error {
	loc := rootOpts.cfg.Location()

	from := model.DateOf(time.Now().In(loc))
	if opts.From != "" {
		d, err := model.ParseDate(opts.From)
		if err != nil {
			return err
		}
		from = d
	}
	to := model.DateOf(from.Time(loc).AddDate(1, 0, 0))
	if opts.To != "" {
		d, err := model.ParseDate(opts.To)
		if err != nil {
			return err
		}
		to = d
	}
	if from.After(to) {
		return errors.WithMessagef(query.ErrBadInterval, "%s > %s", from, to)
	}

	body, err := ics.NewFetcher().Fetch(cmd.Context(), source)
	if err != nil {
		return errors.WithMessage(err, "fetching calendar")
	}
	parsed, err := ics.ParseICS(source, body)
	if err != nil {
		return errors.WithMessage(err, "parsing calendar")
	}
	res, err := ics.ExpandOccurrences(parsed, ics.ExpandConfig{
		Location:   loc,
		RangeStart: from,
		RangeEnd:   to,
	})
	if err != nil {
		return err
	}

	lines := make([]string, 0, len(res.Events))
	for _, ev := range res.Events {
		lines = append(lines, codec.EncodeRequest(codec.Request{
			Op: codec.OpAdd, Date: ev.Date, Name: ev.Name, Description: ev.Description,
		}))
	}

	if opts.DryRun {
		for _, line := range lines {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	}
	if len(lines) > 0 {
		if err := send(rootOpts, lines...); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Sent %d events from %s to %s\n", len(lines), from, to)
	return nil
}
