package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewJobsCmd создаёт группу административных команд над jobs.
func NewJobsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Administer queued jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "purge {run|trigger} ID",
		Short: "Drop queued jobs of a run without sending them",
		Long: `Marks the run so that workers acknowledge its queued jobs without
calling the provider. Already sent messages are not affected.`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(KindRun), string(KindTrigger)},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}

			res, err := clientFn().PurgeJobs(RunKind(args[0]), id)
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Jobs of %s %d purged: %s", res.Kind, res.RunID, res.Message))
			return nil
		},
	})

	return cmd
}
