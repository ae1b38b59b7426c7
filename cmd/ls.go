package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ingestlab/fetchd/internal/progress"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List tasks known to the running fetchd instance",
	Run: func(cmd *cobra.Command, args []string) {
		port := requireRunningInstance()
		jsonOutput, _ := cmd.Flags().GetBool("json")
		watch, _ := cmd.Flags().GetBool("watch")

		for {
			if watch {
				fmt.Print("\033[H\033[2J")
			}
			printSnapshot(port, jsonOutput)
			if !watch {
				return
			}
			time.Sleep(time.Second)
		}
	},
}

func printSnapshot(port int, jsonOutput bool) {
	snap, err := fetchSnapshot(port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(snap, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(snap.Tasks) == 0 {
		fmt.Println("No tasks loaded.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY\tPART\tSTATUS\tPROGRESS\tSIZE")
	fmt.Fprintln(w, "--\t--------\t----\t------\t--------\t----")
	for _, t := range snap.Tasks {
		id := t.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%.1f%%\t%s\n",
			id, t.Category, t.PartNumber, t.TotalParts, t.Status,
			t.Progress*100, progress.HumanBytes(t.TotalBytes))
	}
	w.Flush()

	fmt.Printf("\n%d active, %d pending, %d failed — %.1f%% overall, %s/s\n",
		snap.ActiveCount, snap.PendingCount, snap.FailedCount,
		snap.OverallProgress*100, progress.HumanBytes(int64(snap.OverallRateBps)))
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().Bool("json", false, "Output in JSON format")
	lsCmd.Flags().Bool("watch", false, "Refresh every second")
}
