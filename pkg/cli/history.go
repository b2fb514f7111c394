package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func historyCommand() *cli.Command {
	var (
		cfg     config
		limit   int64
		verbose bool
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of investigations to list",
			Value:       20,
			Destination: &limit,
		},
		&cli.BoolFlag{
			Name:        "verbose",
			Usage:       "Show key findings of each investigation",
			Destination: &verbose,
		},
	}
	flags = append(flags, identityFlags(&cfg)...)
	flags = append(flags, memoryFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, observabilityFlags(&cfg)...)

	return &cli.Command{
		Name:  "history",
		Usage: "List past investigations recorded in memory",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, err := cfg.newLogger(c.Root().ErrWriter)
			if err != nil {
				return err
			}
			logging.SetDefault(logger)
			ctx = logging.With(ctx, logger)

			actor, err := cfg.requireActor()
			if err != nil {
				return err
			}
			if limit <= 0 {
				return goerr.New("limit must be positive", goerr.V("limit", limit))
			}

			memory, closeMemory, err := cfg.newMemory(ctx)
			if err != nil {
				return err
			}
			defer closeMemory()

			summaries, err := memory.ListInvestigations(ctx, actor, int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list investigations")
			}

			w := c.Root().Writer
			if len(summaries) == 0 {
				fmt.Fprintf(w, "No investigations recorded for %s\n", actor)
				return nil
			}

			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					s.IncidentID,
					s.CreatedAt.Format("2006-01-02 15:04:05"),
					s.Status,
					s.Query,
				)
				if verbose {
					for _, f := range s.KeyFindings {
						fmt.Fprintf(w, "\t%s\n", strings.TrimSpace(f))
					}
				}
			}

			return nil
		},
	}
}
