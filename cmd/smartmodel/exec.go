package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nstogner/smartmodel/pkg/interpreter"
)

func newExecCmd(a *app) *cobra.Command {
	var (
		intent      string
		showSession bool
	)
	cmd := &cobra.Command{
		Use:   "exec <file.py | ->",
		Short: "Run a Python program in the sandbox and report its captured state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				code []byte
				err  error
			)
			if args[0] == "-" {
				code, err = io.ReadAll(cmd.InOrStdin())
			} else {
				code, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			interp, err := a.Interpreter()
			if err != nil {
				return err
			}
			resp, err := interp.Execute(cmd.Context(), interpreter.Source{Code: string(code), Intent: intent})
			if err != nil {
				return err
			}

			if out := interpreter.StripSession(resp.Stdout); out != "" {
				fmt.Fprintln(cmd.OutOrStdout(), out)
			}
			if resp.Stderr != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), resp.Stderr)
			}
			if showSession {
				b, err := json.MarshalIndent(resp.Session, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
			}
			if !resp.Successful() {
				return errors.New("program wrote to stderr")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&intent, "intent", "", "what the program does, recorded in history")
	cmd.Flags().BoolVar(&showSession, "session", false, "print the captured function locals as JSON")
	return cmd
}
