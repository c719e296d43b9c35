package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/observability"
	"github.com/xkilldash9x/wayfarer/internal/results"
	"github.com/xkilldash9x/wayfarer/internal/runner"
)

type runOptions struct {
	goal             string
	instructions     []string
	instructionsFile string
	persona          string
}

// newRunCmd creates the `run` command.
func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}

	runCmd := &cobra.Command{
		Use:   "run [targets...]",
		Short: "Runs one session per target and writes a report for each",
		Long: `Runs one goal-directed session per target. Instructions come from
--instruction, --instructions-file, or are planned from --goal.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, args, opts)
		},
	}

	f := runCmd.Flags()
	f.StringVarP(&opts.goal, "goal", "g", "", "goal to plan instructions from")
	f.StringArrayVarP(&opts.instructions, "instruction", "i", nil, "natural-language instruction (repeatable)")
	f.StringVarP(&opts.instructionsFile, "instructions-file", "f", "", "YAML file with a list of instructions")
	f.StringVar(&opts.persona, "persona", "default", "persona name recorded with each session")
	f.String("driver", "", "page driver (cdp or static)")
	f.Int("max-steps", 0, "maximum steps per session")
	f.Int("concurrency", 0, "sessions to run at once")
	f.StringP("output", "o", "", "directory for session reports")
	f.Bool("headless", true, "run the browser headless")
	f.String("planner", "", "planner mode (heuristic or gemini)")

	flagFor(runCmd, "driver", "browser.driver")
	flagFor(runCmd, "max-steps", "session.max_steps")
	flagFor(runCmd, "concurrency", "session.concurrency")
	flagFor(runCmd, "output", "output.dir")
	flagFor(runCmd, "headless", "browser.headless")
	flagFor(runCmd, "planner", "planner.mode")

	runCmd.MarkFlagsMutuallyExclusive("instruction", "instructions-file")
	return runCmd
}

func (a *app) run(cmd *cobra.Command, targets []string, opts *runOptions) error {
	ctx := cmd.Context()
	logger := a.logger

	instructions, err := opts.load()
	if err != nil {
		return err
	}
	if len(instructions) == 0 && opts.goal == "" {
		return errors.New("either --goal or at least one instruction is required")
	}

	comps, err := runner.Assemble(ctx, a.cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer comps.Close()

	if a.cfg.Metrics().Enabled {
		srv, err := observability.StartMetricsServer(a.cfg.Metrics().Addr, nil, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Metrics server shutdown failed", zap.Error(err))
			}
		}()
	}

	r, err := runner.New(a.cfg, comps.Deps)
	if err != nil {
		return err
	}

	persona := runner.Persona(opts.persona, a.cfg.Browser())
	jobs := make([]runner.Job, 0, len(targets))
	for _, target := range targets {
		jobs = append(jobs, runner.Job{
			Target:       target,
			Goal:         opts.goal,
			Instructions: instructions,
			Persona:      persona,
		})
	}

	reports, runErr := r.Run(ctx, jobs)
	if err := results.PrintSummary(cmd.OutOrStdout(), reports); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nReports written to %s\n", a.cfg.Output().Dir)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return runErr
}

// load collects instructions from flags or the instructions file.
func (o *runOptions) load() ([]schemas.Instruction, error) {
	if o.instructionsFile != "" {
		data, err := os.ReadFile(o.instructionsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read instructions file: %w", err)
		}
		return parseInstructions(data)
	}
	out := make([]schemas.Instruction, 0, len(o.instructions))
	for _, text := range o.instructions {
		out = append(out, schemas.NewInstruction(text))
	}
	return out, nil
}

// parseInstructions decodes a YAML list whose items are either plain strings
// or structured {action, target, value} mappings.
func parseInstructions(data []byte) ([]schemas.Instruction, error) {
	var items []yaml.Node
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse instructions: %w", err)
	}
	out := make([]schemas.Instruction, 0, len(items))
	for i := range items {
		item := &items[i]
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, schemas.NewInstruction(item.Value))
		case yaml.MappingNode:
			var instr schemas.Instruction
			if err := item.Decode(&instr); err != nil {
				return nil, fmt.Errorf("instruction %d (line %d): %w", i+1, item.Line, err)
			}
			if instr.Text == "" && instr.Action == "" {
				return nil, fmt.Errorf("instruction %d (line %d) has neither text nor action", i+1, item.Line)
			}
			if instr.Text != "" && instr.Action != "" {
				return nil, fmt.Errorf("instruction %d (line %d) sets both text and action", i+1, item.Line)
			}
			out = append(out, instr)
		default:
			return nil, fmt.Errorf("instruction %d (line %d) must be a string or a mapping", i+1, item.Line)
		}
	}
	return out, nil
}
