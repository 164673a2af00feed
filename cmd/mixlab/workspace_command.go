package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/mixlab/internal/project"
)

func newWorkspaceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "workspace",
		Short: "Print the persisted workspace without starting the engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := project.ReadWorkspace(ctx.config.ProjectDir)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(state)
		},
	}
}
