package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var putCmd = &cobra.Command{
	Use:   "put [key] [value]",
	Short: "Write a resource upstream and into the cache; reads stdin when value is omitted",
	Args:  cobra.RangeArgs(1, 2),
	Run:   runPut,
}

func init() {
	rootCmd.AddCommand(putCmd)
}

func runPut(cmd *cobra.Command, args []string) {
	var value []byte
	if len(args) == 2 {
		value = []byte(args[1])
	} else {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Printf("Failed to read stdin: %v\n", err)
			os.Exit(1)
		}
		value = b
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c := newClient(ctx)
	defer func() {
		_ = c.Close()
	}()

	if err := c.Put(ctx, args[0], value); err != nil {
		slog.Error("Put failed", "key", args[0], "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully stored %s (%d bytes)\n", args[0], len(value))
}
