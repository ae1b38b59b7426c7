package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:     "load <manifest-path>",
	Aliases: []string{"add"},
	Short:   "Load a manifest into the running fetchd instance, replacing its current queue",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		port := requireRunningInstance()
		abs, err := filepath.Abs(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := postManifest(port, abs); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Loaded manifest %s\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
}
