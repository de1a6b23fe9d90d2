package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/nstogner/smartmodel/pkg/interpreter"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		showCode bool
		raw      bool
	)
	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Answer a request by writing, running and explaining a Python program",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := a.Runner(ctx)
			if err != nil {
				return err
			}
			res, err := r.Run(ctx, strings.Join(args, " "))
			out := cmd.OutOrStdout()

			if res != nil && showCode {
				for i, exec := range res.Executions {
					fmt.Fprintf(out, "# attempt %d: %s\n%s\n\n", i+1, exec.Source.Intent, exec.Source.Code)
				}
			}
			var execErr *interpreter.ExecutionError
			if errors.As(err, &execErr) {
				fmt.Fprintln(cmd.ErrOrStderr(), execErr.Stderr)
			}
			if err != nil {
				return err
			}

			if raw {
				fmt.Fprintln(out, res.Answer)
				return nil
			}
			rendered, err := glamour.Render(res.Answer, "auto")
			if err != nil {
				fmt.Fprintln(out, res.Answer)
				return nil
			}
			fmt.Fprint(out, rendered)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showCode, "show-code", false, "print every program that was run")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the answer without Markdown rendering")
	return cmd
}
