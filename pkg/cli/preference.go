package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/repository"
	"github.com/m-mizutani/pika/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func preferenceCommand() *cli.Command {
	var cfg config

	var flags []cli.Flag
	flags = append(flags, identityFlags(&cfg)...)
	flags = append(flags, memoryFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, observabilityFlags(&cfg)...)

	// open prepares logging and memory for both subcommands
	open := func(ctx context.Context, c *cli.Command) (context.Context, model.ActorID, repository.Memory, func(), error) {
		logger, err := cfg.newLogger(c.Root().ErrWriter)
		if err != nil {
			return ctx, "", nil, nil, err
		}
		logging.SetDefault(logger)
		ctx = logging.With(ctx, logger)

		actor, err := cfg.requireActor()
		if err != nil {
			return ctx, "", nil, nil, err
		}
		memory, closeMemory, err := cfg.newMemory(ctx)
		if err != nil {
			return ctx, "", nil, nil, err
		}
		return ctx, actor, memory, closeMemory, nil
	}

	return &cli.Command{
		Name:  "preference",
		Usage: "Show or change report preferences of the actor",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show the stored preference",
				Flags: flags,
				Action: func(ctx context.Context, c *cli.Command) error {
					ctx, actor, memory, closeMemory, err := open(ctx, c)
					if err != nil {
						return err
					}
					defer closeMemory()

					pref, err := currentPreference(ctx, memory, actor)
					if err != nil {
						return err
					}
					fmt.Fprint(c.Root().Writer, formatPreference(pref))
					return nil
				},
			},
			{
				Name:      "set",
				Usage:     "Set preference values",
				ArgsUsage: "key=value [key=value ...]",
				Flags:     flags,
				Action: func(ctx context.Context, c *cli.Command) error {
					settings, err := parseSettings(c.Args().Slice())
					if err != nil {
						return err
					}

					ctx, actor, memory, closeMemory, err := open(ctx, c)
					if err != nil {
						return err
					}
					defer closeMemory()

					pref, err := currentPreference(ctx, memory, actor)
					if err != nil {
						return err
					}
					for k, v := range settings {
						pref.Settings[k] = v
					}

					if err := memory.PutPreference(ctx, pref); err != nil {
						return goerr.Wrap(err, "failed to save preference")
					}
					fmt.Fprint(c.Root().Writer, formatPreference(pref))
					return nil
				},
			},
		},
	}
}

// currentPreference reads the stored preference, or an empty one for a new actor
func currentPreference(ctx context.Context, memory repository.Memory, actor model.ActorID) (*model.Preference, error) {
	records, err := memory.RetrieveMemory(ctx, model.MemoryTypePreference, "", actor, 1)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read preference")
	}

	pref := &model.Preference{ActorID: actor}
	if len(records) > 0 {
		if p, ok := records[0].(*model.Preference); ok {
			pref = p
		}
	}
	if pref.Settings == nil {
		pref.Settings = make(map[string]string)
	}
	return pref, nil
}

// parseSettings reads key=value arguments. The style value must be a known report style.
func parseSettings(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, goerr.New("at least one key=value is required")
	}

	settings := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, goerr.New("invalid setting, expected key=value", goerr.V("arg", arg))
		}
		value = strings.TrimSpace(value)

		if key == model.PreferenceKeyStyle {
			switch model.ReportStyle(strings.ToLower(value)) {
			case model.ReportStyleExecutive, model.ReportStyleTechnical:
				value = strings.ToLower(value)
			default:
				return nil, goerr.New("style must be executive or technical", goerr.V("style", value))
			}
		}
		settings[key] = value
	}
	return settings, nil
}

func formatPreference(p *model.Preference) string {
	if len(p.Settings) == 0 {
		return fmt.Sprintf("No preference stored for %s (report style: %s)\n", p.ActorID, p.Style())
	}

	keys := make([]string, 0, len(p.Settings))
	for k := range p.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, p.Settings[k])
	}
	return b.String()
}
