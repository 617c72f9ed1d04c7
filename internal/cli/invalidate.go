package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var invalidateCmd = &cobra.Command{
	Use:   "invalidate [key|prefix*]",
	Short: "Drop cached entries for a key, or for every key under a prefix ending in '*' or '/'",
	Args:  cobra.ExactArgs(1),
	Run:   runInvalidate,
}

func init() {
	rootCmd.AddCommand(invalidateCmd)
}

func runInvalidate(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := newClient(ctx)
	defer func() {
		_ = c.Close()
	}()

	n, err := c.Invalidate(ctx, args[0])
	if err != nil {
		slog.Error("Invalidate failed", "target", args[0], "error", err)
		os.Exit(1)
	}

	fmt.Printf("Invalidated %d entries for %s\n", n, args[0])
}
