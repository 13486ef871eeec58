package main

import (
	"github.com/spf13/cobra"

	"github.com/nainya/revertstore/internal/server"
)

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var viewing int
	cmd := &cobra.Command{
		Use:   "history TYPE ID",
		Short: "List the versions of a record with their review state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, flags, server.MethodHistory, map[string]any{
				"type": args[0], "id": args[1], "viewing": viewing,
			})
		},
	}
	cmd.Flags().IntVar(&viewing, "viewing", 0, "version being viewed, left out of the list")
	return cmd
}

func newDiffCmd(flags *globalFlags) *cobra.Command {
	var other int
	var ignore []string
	cmd := &cobra.Command{
		Use:   "diff TYPE ID VERSION",
		Short: "Show field differences between a version and latest (or --against)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"type": args[0], "id": args[1], "version": args[2]}
			if other > 0 {
				req["other_version"] = other
			}
			if len(ignore) > 0 {
				names := make([]any, len(ignore))
				for i, n := range ignore {
					names[i] = n
				}
				req["ignore"] = names
			}
			return call(cmd, flags, server.MethodDiff, req)
		},
	}
	cmd.Flags().IntVar(&other, "against", 0, "version to compare with instead of latest")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "fields to ignore, replacing the default set")
	return cmd
}

func newRevertCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "revert TYPE ID VERSION",
		Short: "Revert a record, and records saved with it, to an earlier version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, flags, server.MethodExecute, map[string]any{
				"type": args[0], "id": args[1], "version": args[2],
			})
		},
	}
}

func newReportCmd(flags *globalFlags) *cobra.Command {
	report := &cobra.Command{
		Use:   "report",
		Short: "Reports over record history",
	}
	report.AddCommand(&cobra.Command{
		Use:   "unpublished TYPE",
		Short: "List records of TYPE that are not live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, flags, server.MethodUnpublishedReport, map[string]any{"type": args[0]})
		},
	})
	return report
}
