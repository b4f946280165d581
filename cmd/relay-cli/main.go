// Relay CLI — инструмент командной строки для операционного API.
//
// Использование:
//
//	relay [--api-url URL] [--json] <command> <subcommand> [args]
//
// Команды:
//
//	health      Здоровье процесса и БД
//	stats       Очередь, circuits, log writer, http client, rate limit
//	circuit     Ручной сброс circuit breaker страницы
//	rate-limit  Ручной сброс окна rate limit страницы
//	run         Сводка bulk run
//	trigger     Сводка trigger run
//	jobs        Удаление jobs run из очереди
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Relay/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "Relay CLI — Messenger campaign operations",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := "http://localhost:3000"
	if v := os.Getenv("RELAY_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL (worker stats: the worker's WORKER_PORT)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewHealthCmd(clientFn, outputFn),
		cli.NewStatsCmd(clientFn, outputFn),
		cli.NewCircuitCmd(clientFn, outputFn),
		cli.NewRateLimitCmd(clientFn, outputFn),
		cli.NewRunCmd(clientFn, outputFn),
		cli.NewTriggerCmd(clientFn, outputFn),
		cli.NewJobsCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
