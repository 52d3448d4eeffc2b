package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dyluth/easel/internal/config"
	"github.com/dyluth/easel/internal/printer"
	"github.com/dyluth/easel/internal/watch"
	"github.com/dyluth/easel/pkg/board"
)

var (
	watchBoardName    string
	watchNamespace    string
	watchRedisURL     string
	watchOutputFormat string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Tail live board mutations",
	Long: `Tail the mutations accepted by a running easel server.

Requires the server to run with the relay enabled (--relay or relay.enabled).

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch every board in the default namespace
  easel watch

  # Watch one board
  easel watch --board sketch1

  # Export events as JSON
  easel watch --output=json > events.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchBoardName, "board", "b", "", "Board to watch (all boards if omitted)")
	watchCmd.Flags().StringVarP(&watchNamespace, "namespace", "n", config.DefaultNamespace, "Server namespace")
	watchCmd.Flags().StringVar(&watchRedisURL, "redis-url", config.DefaultRedisURL, "Redis URL of the relay")
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	outputFormat, err := watch.ParseFormat(watchOutputFormat)
	if err != nil {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisOpts, err := redis.ParseURL(watchRedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client, err := board.NewClient(redisOpts, watchNamespace, nil)
	if err != nil {
		return fmt.Errorf("failed to create board client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", watchRedisURL),
			map[string]string{"Error": err.Error()},
			[]string{"Check the --redis-url flag and that the server runs with --relay"},
		)
	}

	if watchBoardName != "" {
		printer.Step("watching board %s\n", watchBoardName)
	} else {
		printer.Step("watching all boards in namespace %s\n", watchNamespace)
	}
	return watch.Stream(ctx, client, watchBoardName, outputFormat, cmd.OutOrStdout())
}
