package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/semmidev/dbvault/internal/app"
	"github.com/semmidev/dbvault/internal/config"
)

func main() {
	cliApp := &cli.App{
		Name:  "dbvault",
		Usage: "dump databases, archive them and ship the archives to S3",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Aliases: []string{"e"},
				Usage:   "dotenv file to read before the environment",
				EnvVars: []string{"DBVAULT_ENV_FILE"},
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "run a single backup cycle and exit, ignoring RUN_ON_STARTUP and CRON",
			},
		},
		Action: run,
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	once := c.Bool("once")
	if !once {
		if err := cfg.RequireSchedule(); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer application.Shutdown()

	if once {
		return application.RunOnce(ctx)
	}
	return application.Run(ctx)
}
