package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/apiclient/internal/repository"
)

var fetchPolicy string

var fetchCmd = &cobra.Command{
	Use:   "fetch [key]",
	Short: "Fetch a resource through the cache",
	Args:  cobra.ExactArgs(1),
	Run:   runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchPolicy, "policy", "", "cache policy (cache_first, network_first, cache_and_network, stale_while_revalidate, cache_only, network_only)")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) {
	var policy repository.Policy
	if fetchPolicy != "" {
		p, err := repository.ParsePolicy(fetchPolicy)
		if err != nil {
			fmt.Printf("Invalid policy: %v\n", err)
			os.Exit(1)
		}
		policy = p
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c := newClient(ctx)
	defer func() {
		_ = c.Close()
	}()

	res, err := c.Fetch(ctx, args[0], policy)
	if err != nil {
		slog.Error("Fetch failed", "key", args[0], "error", err)
		os.Exit(1)
	}

	slog.Debug("Fetched", "key", args[0], "source", res.Source, "stale", res.Stale)
	_, _ = os.Stdout.Write(res.Value)
	fmt.Println()
}
