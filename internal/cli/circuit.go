package cli

import (
	"github.com/spf13/cobra"
)

// NewCircuitCmd создаёт группу команд circuit breaker.
func NewCircuitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "circuit",
		Short: "Manage per-page circuit breakers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reset PAGE_ID",
		Short: "Close the circuit for a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := clientFn().ResetCircuit(args[0])
			if err != nil {
				return err
			}
			outputFn().Success("Circuit reset for page " + res.PageID)
			return nil
		},
	})

	return cmd
}

// NewRateLimitCmd создаёт группу команд rate limiter.
func NewRateLimitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rate-limit",
		Short: "Manage per-page rate limits",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reset PAGE_ID",
		Short: "Clear the rate limit window for a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := clientFn().ResetRateLimit(args[0])
			if err != nil {
				return err
			}
			outputFn().Success("Rate limit reset for page " + res.PageID)
			return nil
		},
	})

	return cmd
}
