package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/menta2k/gridpilot/pkg/controller"
)

func newRunCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run <command...>",
		Short: "Carry out a single command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")

			pilot, err := a.newPilot(cmd.Context())
			if err != nil {
				return err
			}
			defer pilot.Close()

			ctx, cancel := interruptible(cmd.Context(), pilot, a.logger)
			defer cancel()

			var result controller.Result
			err = withMetrics(ctx, a.cfg.Metrics.Listen, a.logger, func(ctx context.Context) error {
				var runErr error
				result, runErr = pilot.Run(ctx, command)
				return runErr
			})
			if closeErr := pilot.Close(); closeErr != nil {
				a.logger.Warn("Failed to flush recorder", zap.Error(closeErr))
			}
			if result.RunID == "" {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(result); encErr != nil {
					return encErr
				}
			} else {
				printResult(result, pilot.RunDir())
			}

			if err != nil {
				return err
			}
			if result.Outcome != controller.OutcomeComplete {
				return fmt.Errorf("command did not complete: %s: %s", result.Outcome, result.Reason)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func printResult(r controller.Result, runDir string) {
	fmt.Printf("Outcome:    %s\n", r.Outcome)
	if r.Reason != "" {
		fmt.Printf("Reason:     %s\n", r.Reason)
	}
	fmt.Printf("Iterations: %d\n", r.Iterations)
	for i, e := range r.History {
		status := "ok"
		if !e.Outcome.Success {
			status = "FAILED"
		}
		line := fmt.Sprintf("  %2d. %-22s %s", i+1, e.Intent.Tag(), status)
		if e.Outcome.Detail != "" {
			line += " (" + e.Outcome.Detail + ")"
		}
		fmt.Println(line)
	}
	if runDir != "" {
		fmt.Printf("Artifacts:  %s\n", runDir)
	}
}
