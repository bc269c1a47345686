package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ameyarj/pica-testing-sub000/internal/persist"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete all stored state of a platform",
	Long: `Delete a platform's history, batch contexts, checkpoints and interrupt
records. The next run starts from the first action.`,
	RunE: runClean,
}

var (
	cleanPlatform string
	cleanForce    bool
)

func init() {
	cleanCmd.Flags().StringVarP(&cleanPlatform, "platform", "p", "", "platform to clean (required)")
	cleanCmd.Flags().BoolVarP(&cleanForce, "force", "f", false, "Skip confirmation prompt")
	_ = cleanCmd.MarkFlagRequired("platform")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	keys, err := a.store.List(ctx, persist.PlatformPrefix(cleanPlatform))
	if err != nil {
		return fmt.Errorf("failed to list state: %w", err)
	}
	if len(keys) == 0 {
		fmt.Fprintf(out, "No stored state for %s\n", cleanPlatform)
		return nil
	}
	fmt.Fprintf(out, "%d stored objects for %s\n", len(keys), cleanPlatform)

	// Confirm unless forced
	if !cleanForce {
		fmt.Fprint(out, "\nDelete them? [y/N] ")
		reader := bufio.NewReader(cmd.InOrStdin())
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Clean cancelled.")
			return nil
		}
	}

	lock := persist.NewRunLock(lockDir(a.cfg), cleanPlatform)
	if err := lock.TryLock(); err != nil {
		return fmt.Errorf("platform %s: %w", cleanPlatform, err)
	}
	defer func() { _ = lock.Unlock() }()

	if err := a.state.ClearPlatform(ctx, cleanPlatform); err != nil {
		return fmt.Errorf("failed to clean %s: %w", cleanPlatform, err)
	}
	fmt.Fprintln(out, successStyle.Render("Cleaned "+cleanPlatform))
	return nil
}
