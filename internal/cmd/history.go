package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ameyarj/pica-testing-sub000/internal/history"
	"github.com/ameyarj/pica-testing-sub000/internal/persist"
	"github.com/ameyarj/pica-testing-sub000/internal/scheduler"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the batch ledger of a platform",
	Long: `Show the recorded batches of a platform, grouped by day.

Without --platform, lists the platforms that have a ledger.`,
	RunE: runHistory,
}

var (
	historyPlatform string
	historyJSON     bool
)

func init() {
	historyCmd.Flags().StringVarP(&historyPlatform, "platform", "p", "", "platform to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print the ledger as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if historyPlatform == "" {
		platforms, err := knownPlatforms(ctx, a.store)
		if err != nil {
			return err
		}
		if len(platforms) == 0 {
			fmt.Fprintln(out, "No campaigns recorded")
			return nil
		}
		for _, p := range platforms {
			fmt.Fprintln(out, p)
		}
		return nil
	}

	h := a.state.LoadHistory(ctx, historyPlatform)
	if historyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(h)
	}
	printHistory(out, h)
	return nil
}

// knownPlatforms returns the platforms whose ledger exists in store.
func knownPlatforms(ctx context.Context, store persist.Store) ([]string, error) {
	keys, err := store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list state: %w", err)
	}
	var out []string
	for _, k := range keys {
		platform, rest, ok := strings.Cut(k, "/")
		if ok && rest == "history.json" && !slices.Contains(out, platform) {
			out = append(out, platform)
		}
	}
	slices.Sort(out)
	return out, nil
}

func printHistory(w io.Writer, h *history.TestingHistory) {
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("History"), h.Platform)
	if len(h.Sessions) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No batches recorded."))
		return
	}

	for _, s := range h.Sessions {
		fmt.Fprintf(w, "\n%s %s\n", headerStyle.Render(s.Date), mutedStyle.Render(s.ID))
		for _, r := range s.Batches {
			fmt.Fprintf(w, "  %s%s%s%s%s\n",
				cell(fmt.Sprintf("batch %d", r.BatchNumber), 12),
				cell(r.ActionRange, 12),
				cell(fmt.Sprintf("%d/%d ok", r.SuccessCount, r.ActionCount), 12),
				cell(r.Duration().Round(time.Second).String(), 10),
				recordStatus(r))
		}
	}

	rp := scheduler.ResolveResume(h, nil)
	fmt.Fprintln(w)
	if rp.Interrupted {
		fmt.Fprintf(w, "Next run continues batch %d at action %d\n", rp.BatchNumber, rp.StartIndex+1)
	} else {
		fmt.Fprintf(w, "Next run starts batch %d at action %d\n", rp.BatchNumber, rp.StartIndex+1)
	}
}

func recordStatus(r history.BatchRecord) string {
	if r.Interrupted() {
		at := "?"
		if r.InterruptedAt != nil {
			at = fmt.Sprint(*r.InterruptedAt + 1)
		}
		return warningStyle.Render("interrupted at " + at)
	}
	return successStyle.Render(string(r.Status))
}
