package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var chainCmd = &cobra.Command{
	Use:   "chain <task-id>",
	Short: "Show the dependency chain of a task",
	Long: `Walk the dependencies of a task breadth-first and print each reachable
task once, indented by its distance from the starting task.

Dependencies that were never registered are marked as missing. The walk
stops at chain.max_depth.`,
	Args: cobra.ExactArgs(1),
	RunE: runChain,
}

func runChain(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	id := args[0]
	task, err := rt.coord.Get(id)
	if err != nil {
		return err
	}
	chain, err := rt.coord.DependencyChain(id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", id, colorStatus(task.Status))
	if len(chain) == 0 {
		fmt.Fprintln(out, "  (no dependencies)")
		return nil
	}
	for _, entry := range chain {
		indent := strings.Repeat("  ", entry.Depth)
		if entry.Missing {
			fmt.Fprintf(out, "%s└ %s %s\n", indent, entry.TaskID, color.HiBlackString("(not registered)"))
			continue
		}
		fmt.Fprintf(out, "%s└ %s %s\n", indent, entry.TaskID, colorStatus(entry.Status))
	}
	return nil
}
