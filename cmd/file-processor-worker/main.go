package main

import (
	"context"
	"os"

	"github.com/Lllllllleong/documentworkflow/internal/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "file-processor-worker",
		Usage: "Run workflow steps for queued files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the YAML configuration",
				Required: true,
				Sources:  cli.EnvVars("CONFIG_PATH"),
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Address serving /metrics",
				Value:   ":9090",
				Sources: cli.EnvVars("METRICS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "api-addr",
				Usage:   "Also serve the gateway on this address, sharing the in-process queue",
				Sources: cli.EnvVars("API_ADDR"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (json, text)",
				Value:   "json",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.WithModule("worker").Error("Worker stopped", "error", err)
		os.Exit(1)
	}
}
