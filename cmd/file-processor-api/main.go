package main

import (
	"context"
	"os"

	"github.com/Lllllllleong/documentworkflow/internal/api"
	"github.com/Lllllllleong/documentworkflow/internal/backend"
	"github.com/Lllllllleong/documentworkflow/internal/config"
	"github.com/Lllllllleong/documentworkflow/internal/log"
	"github.com/Lllllllleong/documentworkflow/internal/statusstore"
	"github.com/Lllllllleong/documentworkflow/internal/taskqueue"
	"github.com/ThreeDotsLabs/watermill"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "file-processor-api",
		Usage: "Accept file-processing requests and manage running tasks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Address to listen on",
				Value:   ":8080",
				Sources: cli.EnvVars("ADDR"),
			},
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the YAML configuration",
				Required: true,
				Sources:  cli.EnvVars("CONFIG_PATH"),
			},
			&cli.BoolFlag{
				Name:    "disable-stop",
				Usage:   "Disable POST /tasks/stop",
				Sources: cli.EnvVars("DISABLE_STOP_TASK_ENDPOINT"),
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
		log.WithModule("api").Error("Gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))
	logger := log.WithModule("api")

	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return err
	}

	rdb, err := statusstore.Dial(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()
	status := statusstore.NewRedisStore(rdb, cfg.StatusTTL)

	client, err := backend.NewClient(cfg.Backend, status, log.WithModule("backend"))
	if err != nil {
		return err
	}

	channels, err := taskqueue.Open(cfg.Queue, watermill.NewSlogLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := channels.Close(); err != nil {
			logger.Error("Failed to close task queue", "error", err)
		}
	}()

	gateway := api.NewAPI(
		taskqueue.NewQueue(channels.Publisher, cfg.Queue),
		status,
		client,
		logger,
		api.WithHealthCheck(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		api.WithStopDisabled(command.Bool("disable-stop")),
	)

	logger.Info("Starting file-processor gateway", "addr", command.String("addr"), "queue", cfg.Queue.Provider)
	return gateway.Start(command.String("addr"))
}
