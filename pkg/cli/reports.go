package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func reportsCommand() *cli.Command {
	var (
		cfg  config
		show string
		raw  bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "show",
			Usage:       "Print the saved report with this name",
			Destination: &show,
		},
		&cli.BoolFlag{
			Name:        "raw",
			Usage:       "Print report markdown without terminal styling",
			Sources:     cli.EnvVars("PIKA_RAW_OUTPUT"),
			Destination: &raw,
		},
	}
	flags = append(flags, reportFlags(&cfg)...)
	flags = append(flags, observabilityFlags(&cfg)...)

	return &cli.Command{
		Name:  "reports",
		Usage: "List saved investigation reports or print one",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, err := cfg.newLogger(c.Root().ErrWriter)
			if err != nil {
				return err
			}
			logging.SetDefault(logger)
			ctx = logging.With(ctx, logger)

			store, err := cfg.newReportStore(ctx)
			if err != nil {
				return err
			}
			w := c.Root().Writer

			if show != "" {
				md, err := store.Load(ctx, show)
				if err != nil {
					return goerr.Wrap(err, "failed to load report", goerr.V("name", show))
				}
				renderer, err := newRenderer(raw)
				if err != nil {
					return err
				}
				return renderMarkdown(w, renderer, md)
			}

			names, err := store.List(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to list reports")
			}
			if len(names) == 0 {
				fmt.Fprintln(w, "No reports saved")
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(w, name)
			}
			return nil
		},
	}
}
