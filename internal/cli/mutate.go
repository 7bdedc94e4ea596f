package cli

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"cald/internal/channel"
	"cald/internal/codec"
	"cald/internal/ics"
	appLog "cald/internal/log"
)

// NewMutationCommands creates the ADD, DEL and UPD commands. Each validates
// its request locally and forwards it to the daemon as one line.
func NewMutationCommands(rootOpts *RootOptions) []*cobra.Command {
	var repeat string

	add := &cobra.Command{
		Use:     "ADD date name [description...]",
		Aliases: []string{"add"},
		Short:   "Add an event",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := decode(codec.OpAdd, args)
			if err != nil {
				return err
			}
			if repeat == "" {
				return send(rootOpts, codec.EncodeRequest(req))
			}

			events, err := ics.ExpandRepeat(req.Event(), repeat)
			if err != nil {
				return errors.WithMessagef(err, "parsing repeat rule %q", repeat)
			}
			lines := make([]string, 0, len(events))
			for _, ev := range events {
				lines = append(lines, codec.EncodeRequest(codec.Request{
					Op: codec.OpAdd, Date: ev.Date, Name: ev.Name, Description: ev.Description,
				}))
			}
			return send(rootOpts, lines...)
		},
	}
	add.Flags().StringVar(&repeat, "repeat", "", `recurrence rule, e.g. "FREQ=WEEKLY;COUNT=4"`)

	del := &cobra.Command{
		Use:     "DEL date name",
		Aliases: []string{"del"},
		Short:   "Delete an event",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := decode(codec.OpDel, args)
			if err != nil {
				return err
			}
			return send(rootOpts, codec.EncodeRequest(req))
		},
	}

	upd := &cobra.Command{
		Use:     "UPD date name new_name [description...]",
		Aliases: []string{"upd"},
		Short:   "Rename an event and replace its description",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := decode(codec.OpUpd, args)
			if err != nil {
				return err
			}
			return send(rootOpts, codec.EncodeRequest(req))
		},
	}

	return []*cobra.Command{add, del, upd}
}

func decode(op codec.Op, args []string) (codec.Request, error) {
	return codec.DecodeRequest(string(op) + " " + strings.Join(args, " "))
}

// send forwards lines to the daemon. A missing pipe means no daemon was
// ever started, and the request is dropped without complaint.
func send(rootOpts *RootOptions, lines ...string) error {
	err := channel.SendLines(rootOpts.cfg.Pipe, lines)
	if errors.Is(err, channel.ErrNoPipe) {
		appLog.Debug("command pipe missing, request dropped", "pipe", rootOpts.cfg.Pipe, "count", len(lines))
		return nil
	}
	return err
}
