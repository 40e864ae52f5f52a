package cli

import (
	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgate/internal/client"
)

var remoteAddr string

// addRemoteFlag lets a command talk to a running server instead of opening
// the stores itself. Two writers on one audit chain would fork it.
func addRemoteFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&remoteAddr, "remote", "", "Address of a running agentgate serve (host:port)")
}

func dialRemote() (*client.Client, error) {
	return client.New(remoteAddr)
}
