package cmd

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/planner"
	"github.com/xkilldash9x/wayfarer/internal/runner"
)

// newPlanCmd creates the `plan` command, which prints the instructions a
// goal would produce without opening a browser.
func newPlanCmd(a *app) *cobra.Command {
	var (
		goal    string
		target  string
		persona string
		asJSON  bool
	)

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Prints the instructions planned for a goal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			req := schemas.PlanRequest{Goal: goal, Persona: persona}
			if target != "" {
				u, err := runner.NormalizeTarget(target)
				if err != nil {
					return err
				}
				req.URL = u
			}

			p, err := planner.New(ctx, a.cfg.Planner(), a.logger)
			if err != nil {
				return fmt.Errorf("failed to create planner: %w", err)
			}
			instructions, err := p.Plan(ctx, req)
			if err != nil {
				return fmt.Errorf("planning failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(instructions, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(data))
				return err
			}
			for i, instr := range instructions {
				fmt.Fprintf(out, "%2d. %s\n", i+1, instr.String())
			}
			return nil
		},
	}

	f := planCmd.Flags()
	f.StringVarP(&goal, "goal", "g", "", "goal to plan for")
	f.StringVarP(&target, "url", "u", "", "start URL given to the planner")
	f.StringVar(&persona, "persona", "default", "persona name")
	f.BoolVar(&asJSON, "json", false, "print the plan as JSON")
	f.String("planner", "", "planner mode (heuristic or gemini)")
	flagFor(planCmd, "planner", "planner.mode")
	_ = planCmd.MarkFlagRequired("goal")
	return planCmd
}
