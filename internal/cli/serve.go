package cli

import "github.com/spf13/cobra"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cache warmer and the health server until interrupted",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
