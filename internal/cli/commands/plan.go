package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/specpipe/internal/cli/output"
	"github.com/leapstack-labs/specpipe/internal/engine"
)

// NewPlanCommand creates the plan command.
func NewPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <input>",
		Short: "Show the model dependency graph",
		Long: `Display the compilation plan of a pipeline without generating anything.

Models are grouped by level: models in one level only depend on models in
earlier levels and can be generated in parallel.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format (agent-friendly)`,
		Example: `  # Show the plan
  specpipe plan requirements.md

  # Output as JSON
  specpipe plan spec.yaml --output json

  # What a change to stg_orders touches
  specpipe plan requirements.md --select stg_orders --downstream`,
		Args: cobra.ExactArgs(1),
	}
	var sel selection
	sel.register(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runPlan(cmd, args[0], &sel)
	}
	return cmd
}

func runPlan(cmd *cobra.Command, path string, sel *selection) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	ps, err := loadInput(cmd.Context(), cmdCtx.Engine, path, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if ps, err = sel.apply(ps); err != nil {
		return err
	}
	plan, err := cmdCtx.Engine.Plan(ps)
	if err != nil {
		return fmt.Errorf("failed to plan: %w", err)
	}

	r := cmdCtx.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(plan)
	case output.ModeMarkdown:
		planMarkdown(r, plan)
	default:
		planText(r, plan)
	}
	return nil
}

func planModels(plan *engine.Plan) map[string]engine.PlanModel {
	byName := make(map[string]engine.PlanModel, len(plan.Models))
	for _, m := range plan.Models {
		byName[m.Name] = m
	}
	return byName
}

// planText outputs the plan in styled text format.
func planText(r *output.Renderer, plan *engine.Plan) {
	styles := r.Styles()
	models := planModels(plan)

	r.Header(1, "Compilation Plan")

	for i, level := range plan.Levels {
		r.Println(styles.Header2.Render(fmt.Sprintf("Level %d:", i)))
		for _, name := range level {
			m := models[name]
			r.Printf("  %s %s\n", styles.ModelPath.Render(m.File), styles.Muted.Render(fmt.Sprintf("(%s → %s)", m.Layer, m.Schema)))
			r.Printf("    %s %s\n", styles.Muted.Render("sources:"), strings.Join(m.Sources, ", "))
			if len(m.UsedBy) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("used by:"), strings.Join(m.UsedBy, ", "))
			}
		}
		r.Println("")
	}

	r.Println(styles.Muted.Render(fmt.Sprintf("Total: %d models, %d dependencies", len(plan.Models), plan.Edges)))
	r.Println(styles.Muted.Render(fmt.Sprintf("Roots: %s  Leaves: %s", strings.Join(plan.Roots, ", "), strings.Join(plan.Leaves, ", "))))
}

// planMarkdown outputs the plan in markdown format.
func planMarkdown(r *output.Renderer, plan *engine.Plan) {
	models := planModels(plan)

	r.Println(output.FormatHeader(1, "Compilation Plan"))
	r.Println("")

	for i, level := range plan.Levels {
		r.Println(output.FormatHeader(2, fmt.Sprintf("Level %d", i)))
		for _, name := range level {
			m := models[name]
			r.Printf("- %s (%s, schema %s)\n", m.File, m.Layer, m.Schema)
			r.Printf("  - sources: %s\n", strings.Join(m.Sources, ", "))
			if len(m.UsedBy) > 0 {
				r.Printf("  - used by: %s\n", strings.Join(m.UsedBy, ", "))
			}
		}
		r.Println("")
	}

	r.Println(output.FormatHeader(2, "Summary"))
	r.Println(output.FormatKeyValue("Order", strings.Join(plan.Order, ", ")))
	r.Println(output.FormatKeyValue("Total Models", fmt.Sprintf("%d", len(plan.Models))))
	r.Println(output.FormatKeyValue("Total Dependencies", fmt.Sprintf("%d", plan.Edges)))
	r.Println(output.FormatKeyValue("Roots", strings.Join(plan.Roots, ", ")))
	r.Println(output.FormatKeyValue("Leaves", strings.Join(plan.Leaves, ", ")))
}
