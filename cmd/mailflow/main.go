// Command mailflow runs the email delivery service and its maintenance tasks.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "mailflow",
		Usage: "Transactional email delivery and tracking",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the HTTP API, webhook receiver and dispatcher",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return runServe(ctx)
				},
			},
			{
				Name:  "migrate",
				Usage: "Apply database migrations, including the River queue schema",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return runMigrate(ctx)
				},
			},
			{
				Name:  "sweep",
				Usage: "Dispatch due pending jobs once and exit",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return runSweep(ctx)
				},
			},
			{
				Name:  "seed-templates",
				Usage: "Store the built-in email templates",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "overwrite",
						Usage: "Replace templates that already exist",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runSeedTemplates(ctx, cmd.Bool("overwrite"))
				},
			},
			{
				Name:  "stats",
				Usage: "Print deliverability statistics as JSON",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "since",
						Value: 24 * time.Hour,
						Usage: "Only count jobs created within this window; 0 counts all",
					},
					&cli.StringFlag{
						Name:  "template",
						Usage: "Only count jobs rendered from this template type",
					},
					&cli.StringFlag{
						Name:  "recipient",
						Usage: "Only count jobs addressed to this recipient",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runStats(ctx, os.Stdout, statsOptions{
						Since:     cmd.Duration("since"),
						Template:  cmd.String("template"),
						Recipient: cmd.String("recipient"),
					})
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
