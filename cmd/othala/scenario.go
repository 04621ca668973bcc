package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/othala-run/othala/pkg/scenario"
)

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run built-in end-to-end scenarios or a soak test against the simulated runtime",
	}
	cmd.AddCommand(newScenarioRunCmd())
	cmd.AddCommand(newScenarioSoakCmd())
	return cmd
}

func newScenarioRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every built-in scenario and print a pass/fail summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner := scenario.NewRunner(time.Now)
			result := runner.RunSuite(scenario.BuiltinScenarios())
			fmt.Println(result.Summary())
			if result.Failed > 0 {
				return fmt.Errorf("%d scenario(s) failed", result.Failed)
			}
			return nil
		},
	}
}

func newScenarioSoakCmd() *cobra.Command {
	var ticks uint64

	cmd := &cobra.Command{
		Use:   "soak",
		Short: "Run a long simulated soak test and report stuck tasks / error rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner := scenario.NewRunner(time.Now)
			cfg := scenario.DefaultSoakConfig()
			if ticks > 0 {
				cfg.TotalTicks = ticks
			}
			result := runner.RunSoak(cfg, []struct{ ID, Description string }{
				{ID: "soak-1", Description: "synthetic soak task"},
				{ID: "soak-2", Description: "synthetic soak task"},
			})
			fmt.Println(result.Summary())
			if !result.Passed {
				return fmt.Errorf("soak run failed: %s", result.Error)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&ticks, "ticks", 0, "override the soak run's total tick count (0 uses the default)")
	return cmd
}
