package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kilianp07/ridesync/core/dispatch"
	"github.com/kilianp07/ridesync/core/journal"
	"github.com/kilianp07/ridesync/core/lifecycle"
	"github.com/kilianp07/ridesync/core/model"
	"github.com/kilianp07/ridesync/core/rideset"
)

var (
	replayOffline bool
	replayVerbose bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <journal>",
	Short: "Replay a frame journal offline and print the resulting state",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayOffline, "offline", false, "start from Idle instead of Browsing")
	replayCmd.Flags().BoolVarP(&replayVerbose, "verbose", "v", false, "print every frame and how it was reconciled")
	rootCmd.AddCommand(replayCmd)
}

// ReplayResult is what a replay prints.
type ReplayResult struct {
	Frames    int                         `json:"frames"`
	Applied   int                         `json:"applied"`
	Dropped   map[string]int              `json:"dropped,omitempty"`
	Lifecycle lifecycle.View              `json:"lifecycle"`
	Requests  []model.RideRequestSnapshot `json:"requests"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	records, err := journal.ReadFile(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	var trace io.Writer
	if replayVerbose {
		trace = cmd.ErrOrStderr()
	}
	res := Replay(records, !replayOffline, trace)
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

// Replay feeds records through a fresh router in order. When online is set
// the lifecycle starts in Browsing. trace may be nil.
func Replay(records []journal.Record, online bool, trace io.Writer) ReplayResult {
	machine := lifecycle.NewMachine(nil, nil)
	if online {
		_, _ = machine.Submit(lifecycle.GoOnline{})
	}
	router := dispatch.NewRouter(rideset.New(rideset.Options{}), machine, nil, nil)
	defer router.Close()

	res := ReplayResult{Frames: len(records), Dropped: map[string]int{}}
	for i, rec := range records {
		reason := ""
		ev, err := dispatch.Decode(rec.Frame())
		switch {
		case errors.Is(err, dispatch.ErrUnknownEvent):
			reason = dispatch.DropUnknownEvent
		case err != nil:
			reason = dispatch.DropMalformed
		default:
			if d := router.Handle(ev); d.Dropped() {
				reason = d.Drop
			}
		}
		if reason == "" {
			res.Applied++
		} else {
			res.Dropped[reason]++
		}
		if trace != nil {
			_, _ = fmt.Fprintf(trace, "%4d %-32s %-10s %s\n", i+1, rec.Event, orApplied(reason), machine.Current().Name())
		}
	}
	res.Lifecycle = lifecycle.ViewOf(machine.Current())
	res.Requests = router.Requests()
	if res.Requests == nil {
		res.Requests = []model.RideRequestSnapshot{}
	}
	return res
}

func orApplied(reason string) string {
	if reason == "" {
		return "applied"
	}
	return reason
}
