package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [id]",
	Short: "Resume a paused task, or all paused tasks with --all",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		port := requireRunningInstance()
		all, _ := cmd.Flags().GetBool("all")

		if all {
			if err := postControlAction(port, "resume-all"); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Resumed all paused tasks.")
			return
		}
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Error: provide a task ID or use --all")
			os.Exit(1)
		}
		if err := postTaskAction(port, args[0], "resume"); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Resumed task %s\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().Bool("all", false, "Resume all paused tasks")
}
