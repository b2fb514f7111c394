package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/cli/command"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/usecase/investigation"
	"github.com/m-mizutani/pika/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func investigateCommand() *cli.Command {
	var (
		cfg    config
		prompt string
		raw    bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"m"},
			Usage:       "Run one investigation and exit (interactive mode when omitted)",
			Destination: &prompt,
		},
		&cli.BoolFlag{
			Name:        "raw",
			Usage:       "Print report markdown without terminal styling",
			Sources:     cli.EnvVars("PIKA_RAW_OUTPUT"),
			Destination: &raw,
		},
	}
	flags = append(flags, investigateFlags(&cfg)...)

	return &cli.Command{
		Name:    "investigate",
		Aliases: []string{"i"},
		Usage:   "Investigate an operational question with the specialist agents",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, err := cfg.newLogger(c.Root().ErrWriter)
			if err != nil {
				return err
			}
			logging.SetDefault(logger)
			ctx = logging.With(ctx, logger)

			p := &progress{w: c.Root().ErrWriter}
			a, err := cfg.newApp(ctx, p, raw)
			if err != nil {
				return err
			}
			defer a.close()

			if prompt != "" {
				return runOnce(ctx, a, prompt, c.Root().Writer)
			}
			quiet := cfg.logLevel != "debug"
			return runInteractive(ctx, a, p, quiet, c.Root().Writer)
		},
	}
}

func runOnce(ctx context.Context, a *app, prompt string, w io.Writer) error {
	res, err := a.investigate(ctx, model.NewSessionID(), prompt)
	if err != nil {
		return err
	}
	if err := a.render(w, res.Report); err != nil {
		return err
	}
	if res.ReportPath != "" {
		fmt.Fprintf(w, "\nReport saved: %s\n", res.ReportPath)
	}
	return nil
}

func runInteractive(ctx context.Context, a *app, p *progress, quiet bool, w io.Writer) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pika> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".pika_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "/exit",
		Stdout:          w,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to start interactive mode")
	}
	defer rl.Close()

	sessionID := model.NewSessionID()
	var last *model.Report

	fmt.Fprintf(w, "pika %s: session %s\n%s\n", version, sessionID, command.Usage())

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return goerr.Wrap(err, "failed to read input")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		cmd, isCmd, err := command.Parse(line)
		if isCmd {
			if err != nil {
				fmt.Fprintf(w, "%s\n%s", err.Error(), command.Usage())
				continue
			}
			if cmd.Name == command.Exit {
				return nil
			}
			runSlashCommand(ctx, a, sessionID, cmd, last, w)
			continue
		}

		res, err := investigateWithSpinner(ctx, a, p, quiet, sessionID, line)
		switch {
		case errors.Is(err, investigation.ErrReauthenticationRequired):
			return err
		case errors.Is(err, investigation.ErrCancelled):
			fmt.Fprintln(w, "Investigation cancelled. Nothing was saved.")
			continue
		case err != nil:
			fmt.Fprintf(w, "Investigation failed: %s\n", err.Error())
			continue
		}

		last = res.Report
		if err := a.render(w, res.Report); err != nil {
			return err
		}
		if res.ReportPath != "" {
			fmt.Fprintf(w, "Report saved: %s\n", res.ReportPath)
		}
	}
}

// investigateWithSpinner runs one investigation while a spinner shows progress.
// Ctrl-C cancels only this investigation.
func investigateWithSpinner(ctx context.Context, a *app, p *progress, quiet bool, sessionID model.SessionID, text string) (*investigation.Result, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if quiet {
		ctx = logging.With(ctx, logging.Discard())
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(p.w))
	s.Suffix = " investigating..."
	p.attach(s)
	s.Start()
	defer func() {
		s.Stop()
		p.attach(nil)
	}()

	return a.investigate(ctx, sessionID, text)
}

func runSlashCommand(ctx context.Context, a *app, sessionID model.SessionID, cmd *command.Command, last *model.Report, w io.Writer) {
	switch cmd.Name {
	case command.Help:
		fmt.Fprint(w, command.Usage())

	case command.Agents:
		tools, err := a.gateway.ListTools(ctx)
		if err != nil {
			fmt.Fprintf(w, "Failed to list tools: %s\n", err.Error())
			return
		}
		fmt.Fprint(w, command.FormatAgents(a.usecase.Domains(), tools))

	case command.History:
		fmt.Fprint(w, command.FormatHistory(a.sessions.Get(sessionID, a.actor)))

	case command.Save:
		var path string
		if len(cmd.Args) > 0 {
			path = cmd.Args[0]
		}
		saved, err := command.SaveReport(path, last)
		if err != nil {
			fmt.Fprintf(w, "%s\n", err.Error())
			return
		}
		fmt.Fprintf(w, "Report saved: %s\n", saved)

	case command.Clear:
		a.sessions.Clear(sessionID)
		fmt.Fprintln(w, "Session history cleared.")
	}
}

// progress shows investigation events, on the spinner when one is attached and as
// lines otherwise
type progress struct {
	mu      sync.Mutex
	w       io.Writer
	spinner *spinner.Spinner
}

func (p *progress) attach(s *spinner.Spinner) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spinner = s
}

func (p *progress) OnEvent(ctx context.Context, ev investigation.Event) {
	msg := describeEvent(ev)
	if msg == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.spinner != nil {
		p.spinner.Lock()
		p.spinner.Suffix = " " + msg
		p.spinner.Unlock()
		return
	}
	fmt.Fprintf(p.w, "> %s\n", msg)
}

func describeEvent(ev investigation.Event) string {
	if ev.Domain != "" {
		return fmt.Sprintf("%s specialist: %s", ev.Domain, ev.Message)
	}

	switch ev.State {
	case investigation.StateClassifying:
		return "classifying the question"
	case investigation.StateRetrievingMemory:
		return fmt.Sprintf("strategy %s, reading memory", ev.Strategy)
	case investigation.StateDelegating:
		return "delegating to specialists"
	case investigation.StateAggregating:
		return "aggregating findings"
	case investigation.StateWritingMemory:
		return "recording the investigation"
	case investigation.StateReporting:
		return "writing the report"
	case investigation.StateDone:
		return "done: " + ev.Message
	default:
		return ""
	}
}
