package cli

import (
	"github.com/spf13/cobra"
)

// NewHealthCmd создаёт команду проверки здоровья процесса.
func NewHealthCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check service and database health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			health, err := clientFn().Health()
			if health == nil {
				return err
			}

			outputFn().Fields([][2]string{
				{"Status", health.Status},
				{"Service", health.Service},
				{"Database", health.Database},
				{"Error", health.Error},
				{"Timestamp", health.Timestamp},
			}, health)
			return err
		},
	}
}
