package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry [id]",
	Short: "Retry a failed task, or all failed tasks with --all",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		port := requireRunningInstance()
		all, _ := cmd.Flags().GetBool("all")

		if all {
			if err := postControlAction(port, "retry-failed"); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Retrying all failed tasks.")
			return
		}
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Error: provide a task ID or use --all")
			os.Exit(1)
		}
		if err := postTaskAction(port, args[0], "retry"); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Retrying task %s\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
	retryCmd.Flags().Bool("all", false, "Retry all failed tasks")
}
