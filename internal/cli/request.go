package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/apiclient/internal/core/domain"
)

var (
	requestHeaders    []string
	requestIdempotent bool
)

var requestCmd = &cobra.Command{
	Use:   "request [method] [path] [body]",
	Short: "Send one request through the pipeline without caching",
	Args:  cobra.RangeArgs(2, 3),
	Run:   runRequest,
}

func init() {
	requestCmd.Flags().StringArrayVarP(&requestHeaders, "header", "H", nil, "extra header as 'Name: value'")
	requestCmd.Flags().BoolVar(&requestIdempotent, "idempotent", false, "allow retries for non-idempotent methods")
	rootCmd.AddCommand(requestCmd)
}

func runRequest(cmd *cobra.Command, args []string) {
	var body []byte
	if len(args) == 3 {
		body = []byte(args[2])
	}
	req := domain.NewRequest(strings.ToUpper(args[0]), args[1], body)
	for _, h := range requestHeaders {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			fmt.Printf("Invalid header %q\n", h)
			os.Exit(1)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	if requestIdempotent {
		req.Idempotent = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c := newClient(ctx)
	defer func() {
		_ = c.Close()
	}()

	resp, err := c.Execute(ctx, req)
	if err != nil {
		slog.Error("Request failed", "method", req.Method, "path", req.Path, "error", err)
		os.Exit(1)
	}

	fmt.Printf("HTTP %d\n", resp.StatusCode)
	_, _ = os.Stdout.Write(resp.Body)
	fmt.Println()
}
