package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для bulk runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return newSummaryGroup("run", "Inspect bulk runs", KindRun, clientFn, outputFn)
}

// NewTriggerCmd создаёт группу команд для trigger runs.
func NewTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return newSummaryGroup("trigger", "Inspect trigger runs", KindTrigger, clientFn, outputFn)
}

func newSummaryGroup(use, short string, kind RunKind, clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "summary ID",
		Short: "Show status and delivery outcome counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			s, err := clientFn().RunSummary(kind, id)
			if err != nil {
				return err
			}
			out := outputFn()

			if out.jsonMode {
				out.JSON(s)
				return nil
			}

			out.Fields([][2]string{
				{"ID", strconv.FormatInt(s.ID, 10)},
				{"Kind", s.Kind},
				{"Status", s.Status},
				{"Total logs", strconv.FormatInt(s.Total, 10)},
			}, s)

			statuses := make([]string, 0, len(s.Counts))
			for status := range s.Counts {
				statuses = append(statuses, status)
			}
			sort.Strings(statuses)

			rows := make([][]string, len(statuses))
			for i, status := range statuses {
				rows[i] = []string{status, strconv.FormatInt(s.Counts[status], 10)}
			}
			if len(rows) > 0 {
				out.Table([]string{"STATUS", "COUNT"}, rows)
			}
			if len(s.Details) > 0 {
				out.Success("Error: " + string(s.Details))
			}
			return nil
		},
	})

	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
