package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var forceCompleteResult string

var forceCompleteCmd = &cobra.Command{
	Use:   "force-complete <task-id>",
	Short: "Complete a task regardless of its dependencies",
	Long: `Mark a task completed without running it, for operators unsticking a
workflow. Dependents that become ready are unblocked.

The override is logged at warn level and published as a force_complete event.
Failed and cancelled tasks cannot be force-completed.`,
	Args: cobra.ExactArgs(1),
	RunE: runForceComplete,
}

func init() {
	forceCompleteCmd.Flags().StringVar(&forceCompleteResult, "result", "", "Result to record, as JSON")
}

func runForceComplete(cmd *cobra.Command, args []string) error {
	result, err := parseResult(forceCompleteResult)
	if err != nil {
		return err
	}

	rt, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	id := args[0]
	if err := rt.coord.ForceComplete(cmd.Context(), id, result); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s force-completed\n", color.YellowString("!"), id)
	return nil
}

// parseResult validates a --result value. Empty means no result.
func parseResult(raw string) (json.RawMessage, error) {
	if raw == "" {
		return nil, nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("--result is not valid JSON: %s", raw)
	}
	return json.RawMessage(raw), nil
}
