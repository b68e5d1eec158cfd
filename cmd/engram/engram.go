// Package engramcmder
package engramcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/engramhq/engram/cmd/engram/config"
	servecmder "github.com/engramhq/engram/cmd/engram/serve"
	versioncmder "github.com/engramhq/engram/cmd/engram/version"
)

const engramLongDesc string = `Engram is a semantic memory engine for conversational agents.

It extracts durable facts from utterances, deduplicates and supersedes
them, and serves ranked, token-budgeted context for model calls.

Run the server using:
  engram serve         Run the memory API server

Manage configuration using:
  engram config set <key> <value>
  engram config get <key>
  engram config list`

const engramShortDesc string = "Engram - Semantic Memory Engine"

func NewEngramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engram",
		Short: engramShortDesc,
		Long:  engramLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .engram/ directory location")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
