package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/roasbeef/troupe"
	"github.com/roasbeef/troupe/actor"
	"github.com/spf13/cobra"
)

// pingCmd round-trips a text message through the remote echo actor.
var pingCmd = &cobra.Command{
	Use:   "ping [text]",
	Short: "Round-trip a text message through the published actor",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := "ping"
		if len(args) == 1 {
			text = args[0]
		}

		return withRuntime(func(rt *troupe.Runtime,
			remoteRef *actor.StrongRef) error {

			start := time.Now()
			future := rt.Request(
				remoteRef,
				time.Duration(timeout)*time.Second,
				&troupe.TextMsg{Text: text},
			)

			result := future.Await(context.Background())
			msg, err := result.Unpack()
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}

			reply, ok := msg.(*troupe.TextMsg)
			if !ok {
				return fmt.Errorf("unexpected reply type %T",
					msg)
			}

			fmt.Printf("%s (%v)\n", reply.Text, time.Since(start))

			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
