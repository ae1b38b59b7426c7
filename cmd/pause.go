package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause [id]",
	Short: "Pause a task, or all tasks with --all",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		port := requireRunningInstance()
		all, _ := cmd.Flags().GetBool("all")

		if all {
			if err := postControlAction(port, "pause-all"); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Paused all tasks.")
			return
		}
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Error: provide a task ID or use --all")
			os.Exit(1)
		}
		if err := postTaskAction(port, args[0], "pause"); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Paused task %s\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(pauseCmd)
	pauseCmd.Flags().Bool("all", false, "Pause all tasks")
}
