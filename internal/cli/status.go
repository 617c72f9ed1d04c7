package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/apiclient/internal/auth"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show token, transport and cache status",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := newClient(ctx)
	defer func() {
		_ = c.Close()
	}()

	st := c.Status(ctx)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "COMPONENT\tSTATE\tDETAIL")
	_, _ = fmt.Fprintf(w, "token\t%s\t%s\n", st.TokenState, auth.StateDescription(st.TokenState))
	_, _ = fmt.Fprintf(w, "cache\t%s\t%s\n", st.Backend, c.Policy())
	for name, err := range st.Dependencies {
		state, detail := "ok", ""
		if err != nil {
			state, detail = "down", err.Error()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", name, state, detail)
	}
	_ = w.Flush()

	fmt.Print(c.Dashboard(ctx))
}
