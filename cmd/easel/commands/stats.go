package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/easel/internal/printer"
	"github.com/dyluth/easel/internal/registry"
)

var (
	statsServerURL string
	statsJSON      bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show resident boards and their members",
	Long: `Show the boards a running easel server holds in memory and how many
sessions are joined to each. Member totals are not unique: a client joined
to two boards counts twice.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVarP(&statsServerURL, "server", "s", "http://localhost:8080", "Base URL of the easel server")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print the raw JSON response")
	rootCmd.AddCommand(statsCmd)
}

func fetchStats(ctx context.Context, baseURL string) (registry.Stats, []byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/stats", nil)
	if err != nil {
		return registry.Stats{}, nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return registry.Stats{}, nil, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return registry.Stats{}, nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return registry.Stats{}, nil, fmt.Errorf("server returned %s", resp.Status)
	}
	var stats registry.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return registry.Stats{}, nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	return stats, body, nil
}

// writeStats renders stats as the human-readable summary.
func writeStats(w io.Writer, stats registry.Stats) {
	printer.Heading(w, "Boards: %d. Members (non-unique): %d\n", stats.Boards, stats.Members)
	if len(stats.Detail) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, b := range stats.Detail {
		fmt.Fprintf(w, " -- %s : %d members, %d objects\n", b.Name, b.Members, b.Objects)
	}
}

func runStats(cmd *cobra.Command, args []string) error {
	stats, raw, err := fetchStats(cmd.Context(), statsServerURL)
	if err != nil {
		return printer.ErrorWithContext(
			"failed to fetch stats",
			err.Error(),
			map[string]string{"Server": statsServerURL},
			[]string{"Check that the server is running:\n  easel serve"},
		)
	}
	if statsJSON {
		_, err := cmd.OutOrStdout().Write(append(raw, '\n'))
		return err
	}
	writeStats(cmd.OutOrStdout(), stats)
	return nil
}
