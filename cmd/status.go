package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ingestlab/fetchd/internal/progress"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show an overall progress summary",
	Run: func(cmd *cobra.Command, args []string) {
		port := requireRunningInstance()
		snap, err := fetchSnapshot(port)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Paused:  %v\n", snap.IsPaused)
		fmt.Printf("Network: %v\n", snap.IsNetworkAvailable)
		fmt.Printf("Tasks:   %d active, %d pending, %d failed\n", snap.ActiveCount, snap.PendingCount, snap.FailedCount)
		fmt.Printf("Overall: %.1f%% at %s/s\n", snap.OverallProgress*100, progress.HumanBytes(int64(snap.OverallRateBps)))

		for _, g := range snap.GroupedByCategory {
			fmt.Printf("  %-20s %s (%.1f%%)\n", g.Category, g.OverallStatus, g.Progress*100)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
