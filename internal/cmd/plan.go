package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ameyarj/pica-testing-sub000/internal/catalog"
	"github.com/ameyarj/pica-testing-sub000/internal/graph"
	"github.com/ameyarj/pica-testing-sub000/internal/scheduler"
	"github.com/ameyarj/pica-testing-sub000/internal/util"
)

var planCmd = &cobra.Command{
	Use:   "plan <catalog>",
	Short: "Show the dependency graph and the batches a run would execute",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

var (
	planPlatform  string
	planBatchSize int
	planFresh     bool
	planNoOracle  bool
	planJSON      bool
)

func init() {
	planCmd.Flags().StringVarP(&planPlatform, "platform", "p", "", "platform to plan (required)")
	planCmd.Flags().IntVarP(&planBatchSize, "batch-size", "b", 0, "target actions per batch (default from config)")
	planCmd.Flags().BoolVar(&planFresh, "fresh", false, "plan from the first action, ignoring history")
	planCmd.Flags().BoolVar(&planNoOracle, "no-oracle", false, "use heuristic dependency analysis only")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "print the dependency graph as JSON")
	_ = planCmd.MarkFlagRequired("platform")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	actions, err := catalog.LoadFile(args[0], planPlatform)
	if err != nil {
		return err
	}

	g := newBuilder(a.cfg, a.logger, !planNoOracle).Build(ctx, actions, planPlatform)
	out := cmd.OutOrStdout()
	if planJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(g)
	}

	batchSize := a.cfg.Scheduler.BatchSize
	if cmd.Flags().Changed("batch-size") {
		batchSize = planBatchSize
	}
	h := a.state.LoadHistory(ctx, planPlatform)
	rp := scheduler.ResolveResume(h, a.logger)
	if planFresh {
		rp = scheduler.Fresh(h)
	}

	printGraph(out, g)
	fmt.Fprintln(out)
	printPlan(out, scheduler.Plan(g, actions, batchSize, rp), rp)
	return nil
}

func printGraph(w io.Writer, g *graph.DependencyGraph) {
	fmt.Fprintf(w, "%s %s, %s, %s\n",
		titleStyle.Render("Graph"),
		g.Mode,
		util.Plural(len(g.Nodes), "action"),
		util.Plural(len(g.ExecutionGroups), "group"))
	if r := g.Repairs; r.Total() > 0 {
		fmt.Fprintf(w, "%s dangling=%d duplicate=%d cycle=%d forced=%d synthesized=%d unknown=%d\n",
			warningStyle.Render("Repairs:"),
			r.DanglingEdges, r.DuplicateEdges, r.CycleEdges, r.ForcedFlushes, r.SynthesizedNodes, r.UnknownHints)
	}
	if g.Repairs.FallbackReason != "" {
		fmt.Fprintf(w, "%s %s\n", mutedStyle.Render("Oracle fallback:"), g.Repairs.FallbackReason)
	}

	for i, group := range g.ExecutionGroups {
		fmt.Fprintf(w, "  %s %s\n",
			headerStyle.Render(fmt.Sprintf("%2d.", i+1)),
			util.TruncateString(strings.Join(group, ", "), 100))
	}
}

func printPlan(w io.Writer, batches []scheduler.Batch, rp scheduler.ResumePoint) {
	switch {
	case rp.Interrupted:
		fmt.Fprintf(w, "%s batch %d at action %d\n", titleStyle.Render("Resume"), rp.BatchNumber, rp.StartIndex+1)
	default:
		fmt.Fprintf(w, "%s at action %d\n", titleStyle.Render("Start"), rp.StartIndex+1)
	}
	if rp.Ambiguous {
		fmt.Fprintln(w, warningStyle.Render("History was partly unreadable; start is a best effort."))
	}
	if len(batches) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("Nothing left to run."))
		return
	}
	for _, b := range batches {
		first, last := b.Actions[0].ID, b.Actions[b.Len()-1].ID
		fmt.Fprintf(w, "  %s%s%s\n",
			cell(fmt.Sprintf("batch %d", b.Number), 12),
			cell(b.Range(), 12),
			mutedStyle.Render(fmt.Sprintf("%s .. %s", first, last)))
	}
}
