package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#25A065"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errHistoryOff = errors.New("history is disabled (store.path is empty)")
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded executions and generation requests",
	}
	cmd.PersistentFlags().IntVarP(&limit, "limit", "n", 20, "number of records to show (0 for all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "executions",
		Short: "List recent executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := a.Store()
			if err != nil {
				return err
			}
			if history == nil {
				return errHistoryOff
			}
			recs, err := history.ListExecutions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%-36s  %-6s  %-9s  %s", "ID", "STATUS", "DURATION", "INTENT")))
			for _, r := range recs {
				status := okStyle.Render(fmt.Sprintf("%-6s", "ok"))
				if !r.Successful {
					status = failStyle.Render(fmt.Sprintf("%-6s", "failed"))
				}
				fmt.Fprintf(out, "%-36s  %s  %-9s  %s %s\n", r.ID, status, r.Duration.Round(time.Millisecond),
					oneLine(r.Intent), dimStyle.Render(r.CreatedAt.Local().Format(time.DateTime)))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show one execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := a.Store()
			if err != nil {
				return err
			}
			if history == nil {
				return errHistoryOff
			}
			r, err := history.GetExecution(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render(r.Intent))
			fmt.Fprintln(out, r.Code)
			if r.Stdout != "" {
				fmt.Fprintln(out, headerStyle.Render("stdout"))
				fmt.Fprintln(out, r.Stdout)
			}
			if r.Stderr != "" {
				fmt.Fprintln(out, failStyle.Render("stderr"))
				fmt.Fprintln(out, r.Stderr)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "generations",
		Short: "List recent generation requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := a.Store()
			if err != nil {
				return err
			}
			if history == nil {
				return errHistoryOff
			}
			recs, err := history.ListGenerations(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%-36s  %-16s  %-8s  %s", "REQUEST", "SHAPE", "ATTEMPTS", "PROMPT")))
			for _, r := range recs {
				attempts := okStyle.Render(fmt.Sprintf("%-8d", r.Attempts))
				if !r.Succeeded {
					attempts = failStyle.Render(fmt.Sprintf("%-8d", r.Attempts))
				}
				fmt.Fprintf(out, "%-36s  %-16s  %s  %s\n", r.RequestID, r.Shape, attempts, oneLine(r.Prompt))
			}
			return nil
		},
	})
	return cmd
}

// oneLine shortens s to its first line, at most 60 runes.
func oneLine(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	if r := []rune(s); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return s
}
