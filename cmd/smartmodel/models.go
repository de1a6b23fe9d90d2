package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nstogner/smartmodel/pkg/model"
)

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models the configured provider offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.GeneratorClient(cmd.Context())
			if err != nil {
				return err
			}
			lister, ok := client.(model.Lister)
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), client.Name())
				return nil
			}
			models, err := lister.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range models {
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s\n", m.ID, dimStyle.Render(m.Provider))
			}
			return nil
		},
	}
}
