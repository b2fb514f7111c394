package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func toolsCommand() *cli.Command {
	var cfg config

	var flags []cli.Flag
	flags = append(flags, gatewayFlags(&cfg)...)
	flags = append(flags, observabilityFlags(&cfg)...)

	return &cli.Command{
		Name:  "tools",
		Usage: "List the tools offered by the gateway, grouped by domain",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, err := cfg.newLogger(c.Root().ErrWriter)
			if err != nil {
				return err
			}
			logging.SetDefault(logger)
			ctx = logging.With(ctx, logger)

			gw, _, err := cfg.newGateway(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := gw.Close(); err != nil {
					logger.Warn("failed to close gateway", "error", err)
				}
			}()

			tools, err := gw.ListTools(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to list tools")
			}
			printTools(c.Root().Writer, tools)
			return nil
		},
	}
}

func printTools(w io.Writer, tools []*model.ToolDescriptor) {
	if len(tools) == 0 {
		fmt.Fprintln(w, "No tools available")
		return
	}

	sorted := make([]*model.ToolDescriptor, len(tools))
	copy(sorted, tools)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Domain != sorted[j].Domain {
			return sorted[i].Domain.Rank() < sorted[j].Domain.Rank()
		}
		return sorted[i].Name < sorted[j].Name
	})

	var current model.Domain
	for i, t := range sorted {
		if i == 0 || t.Domain != current {
			current = t.Domain
			fmt.Fprintf(w, "[%s]\n", current)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", t.Name, t.Server, t.Description)
	}
}
