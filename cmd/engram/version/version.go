// Package versioncmder provides the version command.
package versioncmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/pkg/utils"
)

const versionShortDesc string = "Print the engram version"

func NewVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: versionShortDesc,
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("engram %s\n", utils.Version)
		},
	}

	return cmd
}
