package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/petemoulton/trilogy/internal/plan"
)

var applyCmd = &cobra.Command{
	Use:   "apply <plan.yaml>",
	Short: "Register the tasks of a plan file",
	Long: `Register every task in a YAML plan file.

Tasks are registered dependencies first where the plan allows it. Tasks
without an id get a generated UUID. A task that cannot be registered (duplicate
id, self-dependency, cycle) is reported and the rest of the plan still applies.

Do not run this against a database a daemon is serving; drop the file into
the daemon's plans directory instead.

Example plan:
  name: release
  tasks:
    - id: build
    - id: test
      depends_on: [build]
      worker: ci`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func runApply(cmd *cobra.Command, args []string) error {
	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}

	rt, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	result := plan.Apply(cmd.Context(), rt.coord, p)

	out := cmd.OutOrStdout()
	for _, id := range result.Registered {
		task, err := rt.coord.Get(id)
		if err != nil {
			continue
		}
		fmt.Fprintf(out, "%s %s %s\n", color.GreenString("✓"), id, colorStatus(task.Status))
	}
	if err := result.Err(); err != nil {
		fmt.Fprintf(out, "%s %d task(s) rejected\n", color.RedString("✗"), len(result.Errors))
		return err
	}
	fmt.Fprintf(out, "Registered %d task(s) from %s\n", len(result.Registered), args[0])
	return nil
}
