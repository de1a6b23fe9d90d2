package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nstogner/smartmodel/pkg/schema"
	"github.com/nstogner/smartmodel/pkg/structured"
)

func newGenerateCmd(a *app) *cobra.Command {
	var (
		shapeName  string
		showSchema bool
	)
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Ask the model for a JSON value of a declared shape",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.Shapes()
			if err != nil {
				return err
			}
			shape, ok := reg.Get(shapeName)
			if !ok {
				names := reg.Names()
				sort.Strings(names)
				return fmt.Errorf("unknown shape %q (available: %s)", shapeName, strings.Join(names, ", "))
			}
			if showSchema {
				text, err := schema.RenderClosure(shape)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			}

			prompt := strings.Join(args, " ")
			if prompt == "" {
				return errors.New("a prompt is required")
			}
			ctx := cmd.Context()
			client, err := a.GeneratorClient(ctx)
			if err != nil {
				return err
			}
			opts, err := a.GeneratorOptions()
			if err != nil {
				return err
			}

			gen := structured.New[any](client, shape, opts...)
			text, ok, err := gen.GenerateJSON(ctx, prompt)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no valid %s after %d attempts", shape.Name, a.cfg.Generation.MaxAttempts+1)
			}
			var out bytes.Buffer
			if err := json.Indent(&out, []byte(text), "", "  "); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&shapeName, "shape", "s", "", "name of the shape to generate (built-in or from generation.shapes_file)")
	cmd.Flags().BoolVar(&showSchema, "show-schema", false, "print the schema text sent to the model and exit")
	_ = cmd.MarkFlagRequired("shape")
	return cmd
}
