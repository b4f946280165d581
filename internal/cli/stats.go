package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewStatsCmd создаёт группу команд статистики.
//
// circuits, http-client и log-writer — состояние конкретного воркера:
// --api-url должен указывать на его WORKER_PORT.
func NewStatsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show component statistics",
	}

	cmd.AddCommand(
		newStatsQueueCmd(clientFn, outputFn),
		newStatsCircuitsCmd(clientFn, outputFn),
		newStatsLogWriterCmd(clientFn, outputFn),
		newStatsHTTPClientCmd(clientFn, outputFn),
		newStatsPerformanceCmd(clientFn, outputFn),
		newStatsRateLimitCmd(clientFn, outputFn),
	)

	return cmd
}

func newStatsQueueCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show job queue depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := clientFn().QueueStats()
			if err != nil {
				return err
			}

			headers := []string{"QUEUE", "MESSAGES", "CONSUMERS"}
			rows := make([][]string, 0, 2)
			for _, q := range []QueueStats{stats.Ready, stats.DLQ} {
				rows = append(rows, []string{q.Name, strconv.Itoa(q.Messages), strconv.Itoa(q.Consumers)})
			}

			outputFn().Print(headers, rows, stats)
			return nil
		},
	}
}

func newStatsCircuitsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "circuits",
		Short: "Show circuit breaker state per page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := clientFn().CircuitStats()
			if err != nil {
				return err
			}
			out := outputFn()

			headers := []string{"PAGE_ID", "FAILURES", "OPEN", "LAST_FAILURE"}
			rows := make([][]string, len(stats.Circuits))
			for i, c := range stats.Circuits {
				rows[i] = []string{c.PageID, strconv.Itoa(c.Failures), strconv.FormatBool(c.IsOpen), c.LastFailure}
			}

			out.Print(headers, rows, stats)
			if !out.jsonMode {
				out.Success(fmt.Sprintf("enabled=%t threshold=%d timeout=%dms",
					stats.Enabled, stats.Threshold, stats.TimeoutMS))
			}
			return nil
		},
	}
}

func newStatsLogWriterCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "log-writer",
		Short: "Show log writer buffer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := clientFn().LogWriterStats()
			if err != nil {
				return err
			}

			outputFn().Fields([][2]string{
				{"Buffered", strconv.Itoa(stats.BufferedLogs)},
				{"Batch size", strconv.Itoa(stats.BatchSize)},
				{"Interval", fmt.Sprintf("%dms", stats.BatchIntervalMS)},
				{"Fill", fmt.Sprintf("%.1f%%", stats.FillPercentage)},
			}, stats)
			return nil
		},
	}
}

func newStatsHTTPClientCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "http-client",
		Short: "Show provider client statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := clientFn().HTTPClientStats()
			if err != nil {
				return err
			}

			outputFn().Fields([][2]string{
				{"Client", stats.ClientID},
				{"Created", stats.CreatedAt},
				{"Requests", strconv.FormatInt(stats.TotalRequests, 10)},
				{"Succeeded", strconv.FormatInt(stats.Succeeded, 10)},
				{"Failed", strconv.FormatInt(stats.Failed, 10)},
				{"Avg duration", fmt.Sprintf("%.1fms", stats.AvgDurationMS)},
				{"Max sockets", strconv.Itoa(stats.MaxSockets)},
				{"Debug", strconv.FormatBool(stats.DebugMode)},
			}, stats)
			return nil
		},
	}
}

func newStatsPerformanceCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "performance",
		Short: "Show aggregated performance snapshot (always JSON)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := clientFn().Performance()
			if err != nil {
				return err
			}
			outputFn().JSON(stats)
			return nil
		},
	}
}

func newStatsRateLimitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "rate-limit PAGE_ID",
		Short: "Show rate limit window usage for a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := clientFn().RateLimitStats(args[0])
			if err != nil {
				return err
			}

			outputFn().Fields([][2]string{
				{"Page", stats.PageID},
				{"Current", strconv.FormatInt(stats.Current, 10)},
				{"Max", strconv.Itoa(stats.Max)},
				{"Remaining", strconv.FormatInt(stats.Remaining, 10)},
				{"Window", fmt.Sprintf("%dms", stats.WindowMS)},
			}, stats)
			return nil
		},
	}
}
