package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ameyarj/pica-testing-sub000/internal/campaign"
	"github.com/ameyarj/pica-testing-sub000/internal/catalog"
	"github.com/ameyarj/pica-testing-sub000/internal/config"
	"github.com/ameyarj/pica-testing-sub000/internal/errors"
	"github.com/ameyarj/pica-testing-sub000/internal/persist"
	"github.com/ameyarj/pica-testing-sub000/internal/util"
)

var runCmd = &cobra.Command{
	Use:   "run <catalog>",
	Short: "Run the remaining batches of a platform's campaign",
	Long: `Run executes a platform's actions from a JSON or YAML catalog file.

By default the campaign resumes after the last recorded batch, continuing an
interrupted batch at the action where it stopped. Ctrl-C records the current
position before exiting.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runPlatform   string
	runFresh      bool
	runBatchSize  int
	runMaxBatches int
	runDryRun     bool
	runNoOracle   bool
)

func init() {
	runCmd.Flags().StringVarP(&runPlatform, "platform", "p", "", "platform to test (required)")
	runCmd.Flags().BoolVar(&runFresh, "fresh", false, "ignore history and start from the first action")
	runCmd.Flags().IntVarP(&runBatchSize, "batch-size", "b", 0, "target actions per batch (default from config)")
	runCmd.Flags().IntVar(&runMaxBatches, "max-batches", 0, "stop after this many batches (default from config)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "execute nothing; fabricate successful results")
	runCmd.Flags().BoolVar(&runNoOracle, "no-oracle", false, "use heuristic dependency analysis only")
	_ = runCmd.MarkFlagRequired("platform")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	actions, err := catalog.LoadFile(args[0], runPlatform)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		return fmt.Errorf("catalog %s has no actions for platform %q", args[0], runPlatform)
	}

	lock := persist.NewRunLock(lockDir(a.cfg), runPlatform)
	if err := lock.TryLock(); err != nil {
		return fmt.Errorf("platform %s: %w", runPlatform, err)
	}
	defer func() { _ = lock.Unlock() }()

	mode := a.cfg.Executor.Mode
	if runDryRun {
		mode = config.ExecutorDryRun
	}
	exec, err := newExecutor(a.cfg, a.logger, mode)
	if err != nil {
		return err
	}

	runner := campaign.NewRunner(
		newBuilder(a.cfg, a.logger, !runNoOracle),
		exec,
		a.state,
		campaign.WithLogger(a.logger),
		campaign.WithRegistryCapacity(a.cfg.Persistence.RecentActions),
	)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", titleStyle.Render("Testing"), runPlatform)
	fmt.Fprintf(out, "%s\n\n", mutedStyle.Render(fmt.Sprintf("%s from %s", util.Plural(len(actions), "action"), args[0])))

	report, err := runner.Run(ctx, runPlatform, actions, strategyFor(cmd, a.cfg))
	if report != nil {
		printReport(out, report)
	}
	if errors.IsFatal(err) {
		fmt.Fprintln(out, warningStyle.Render("\nInterrupted. Progress saved; run again to resume."))
		return nil
	}
	return err
}

// strategyFor merges command flags over the scheduler configuration.
func strategyFor(cmd *cobra.Command, cfg *config.Config) campaign.Strategy {
	s := campaign.Strategy{
		BatchSize:  cfg.Scheduler.BatchSize,
		Fresh:      runFresh || !cfg.Scheduler.Resume,
		MaxBatches: cfg.Scheduler.MaxBatches,
	}
	if cmd.Flags().Changed("batch-size") {
		s.BatchSize = runBatchSize
	}
	if cmd.Flags().Changed("max-batches") {
		s.MaxBatches = runMaxBatches
	}
	return s
}

func printReport(w io.Writer, r *campaign.Report) {
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("Run:"), r.RunID)
	fmt.Fprintf(w, "%s %s", headerStyle.Render("Graph:"), r.GraphMode)
	if n := r.Repairs.Total(); n > 0 {
		fmt.Fprintf(w, " (%s)", util.Plural(n, "repair"))
	}
	if r.Repairs.FallbackReason != "" {
		fmt.Fprintf(w, " %s", mutedStyle.Render(r.Repairs.FallbackReason))
	}
	fmt.Fprintln(w)
	if r.ResumeSource != persist.SourceNone && r.ResumeSource != "" {
		fmt.Fprintf(w, "%s %s at action %d\n", headerStyle.Render("Resumed:"), r.ResumeSource, r.StartIndex+1)
	}
	if r.Ambiguous {
		fmt.Fprintln(w, warningStyle.Render("History was partly unreadable; resume position is a best effort."))
	}
	fmt.Fprintln(w)

	if len(r.Batches) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("Nothing left to run."))
		return
	}

	fmt.Fprintf(w, "%s%s%s%s%s\n",
		cell(headerStyle.Render("BATCH"), 8),
		cell(headerStyle.Render("RANGE"), 12),
		cell(headerStyle.Render("RAN"), 6),
		cell(headerStyle.Render("OK"), 6),
		headerStyle.Render("STATUS"))
	for _, b := range r.Batches {
		fmt.Fprintf(w, "%s%s%s%s%s\n",
			cell(fmt.Sprint(b.Number), 8),
			cell(b.Range(), 12),
			cell(fmt.Sprint(b.Executed), 6),
			cell(fmt.Sprint(b.Succeeded), 6),
			batchStatus(b))
	}

	fmt.Fprintf(w, "\n%d/%d succeeded in %s\n", r.Succeeded, r.Executed, r.Duration().Round(time.Millisecond))
}

func batchStatus(b campaign.BatchReport) string {
	switch {
	case b.Interrupted:
		return warningStyle.Render(fmt.Sprintf("interrupted at %d", b.ResumeIndex+1))
	case b.HistoryOnly:
		return errorStyle.Render("completed (context not saved)")
	case b.Compressed:
		return successStyle.Render("completed (compact)")
	default:
		return successStyle.Render("completed")
	}
}
