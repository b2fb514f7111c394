package cli

import (
	"context"
	"errors"

	"github.com/m-mizutani/pika/pkg/usecase/investigation"
	"github.com/urfave/cli/v3"
)

// version is overwritten at build time with -ldflags
var version = "dev"

const (
	exitSetupFailure     = 1
	exitReauthentication = 2
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:    "pika",
		Usage:   "Multi-agent SRE investigation assistant",
		Version: version,
		Commands: []*cli.Command{
			investigateCommand(),
			historyCommand(),
			preferenceCommand(),
			toolsCommand(),
			reportsCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		code := exitSetupFailure
		if errors.Is(err, investigation.ErrReauthenticationRequired) {
			code = exitReauthentication
		}
		return &Error{
			Code:    code,
			Message: err.Error(),
		}
	}

	return nil
}
