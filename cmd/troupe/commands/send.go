package commands

import (
	"fmt"
	"time"

	"github.com/roasbeef/troupe"
	"github.com/roasbeef/troupe/actor"
	"github.com/spf13/cobra"
)

// sendCmd fires one text message at the published actor without waiting for
// a reply.
var sendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "Send a fire-and-forget text message to the published actor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *troupe.Runtime,
			remoteRef *actor.StrongRef) error {

			rt.Send(remoteRef, &troupe.TextMsg{Text: args[0]})

			// Give the write buffer a moment to flush before the
			// runtime tears the connection down.
			time.Sleep(200 * time.Millisecond)
			fmt.Println("sent")

			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
