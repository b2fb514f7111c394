package cli

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/service/gateway"
	"github.com/m-mizutani/pika/pkg/usecase/investigation"
	"github.com/m-mizutani/pika/pkg/usecase/session"
	"github.com/m-mizutani/pika/pkg/utils/logging"
)

const (
	sessionCacheSize = session.DefaultSize
	renderWidth      = 100
)

// app holds the components of an investigation run
type app struct {
	actor    model.ActorID
	usecase  *investigation.UseCase
	gateway  *gateway.Client
	sessions *session.Store
	renderer *glamour.TermRenderer
	closers  []func()
}

// newApp validates the configuration and builds every component. Any error here is a
// setup failure.
func (cfg *config) newApp(ctx context.Context, observer investigation.Observer, raw bool) (*app, error) {
	actor, err := cfg.requireActor()
	if err != nil {
		return nil, err
	}
	if cfg.maxToolCalls <= 0 {
		return nil, goerr.New("max-tool-calls must be positive", goerr.V("max_tool_calls", cfg.maxToolCalls))
	}

	a := &app{actor: actor}
	success := false
	defer func() {
		if !success {
			a.close()
		}
	}()

	tp, err := cfg.newTracing(ctx)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logging.From(ctx).Warn("failed to shut down tracing", "error", err)
		}
	})

	m := cfg.newMetrics(ctx)

	memory, closeMemory, err := cfg.newMemory(ctx)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeMemory)

	o, err := cfg.newOracle(ctx)
	if err != nil {
		return nil, err
	}

	gw, transport, err := cfg.newGateway(ctx)
	if err != nil {
		return nil, err
	}
	a.gateway = gw
	a.closers = append(a.closers, func() {
		if err := gw.Close(); err != nil {
			logging.From(ctx).Warn("failed to close gateway", "error", err)
		}
	})

	agents, err := cfg.newAgents(gw, o, m)
	if err != nil {
		return nil, err
	}

	router, err := cfg.newRouter(ctx)
	if err != nil {
		return nil, err
	}

	reports, err := cfg.newReportStore(ctx)
	if err != nil {
		return nil, err
	}

	opts := []investigation.Option{
		investigation.WithRouter(router),
		investigation.WithReportStore(reports),
		investigation.WithObserver(observer),
		investigation.WithMetrics(m),
		investigation.WithTimeout(cfg.investigationTimeout),
	}
	if transport != nil {
		opts = append(opts, investigation.WithRefresher(transport))
	}

	a.usecase, err = investigation.New(memory, agents, opts...)
	if err != nil {
		return nil, err
	}

	if a.sessions, err = session.New(sessionCacheSize); err != nil {
		return nil, err
	}

	if a.renderer, err = newRenderer(raw); err != nil {
		return nil, err
	}

	success = true
	return a, nil
}

// close releases components in reverse order of creation
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// investigate runs one query within the session and stores the new conversation
func (a *app) investigate(ctx context.Context, sessionID model.SessionID, text string) (*investigation.Result, error) {
	conv := a.sessions.Get(sessionID, a.actor)
	res, next, err := a.usecase.Investigate(ctx, conv, model.NewQuery(text, a.actor, sessionID))
	if err != nil {
		return nil, err
	}
	a.sessions.Put(next)
	return res, nil
}

// render writes the report, styled for the terminal unless raw output was requested
func (a *app) render(w io.Writer, r *model.Report) error {
	return renderMarkdown(w, a.renderer, r.Markdown)
}

// newRenderer returns nil when raw output is requested
func newRenderer(raw bool) (*glamour.TermRenderer, error) {
	if raw {
		return nil, nil
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(renderWidth),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create markdown renderer")
	}
	return renderer, nil
}

func renderMarkdown(w io.Writer, renderer *glamour.TermRenderer, md string) error {
	out := md
	if renderer != nil {
		styled, err := renderer.Render(md)
		if err != nil {
			return goerr.Wrap(err, "failed to render report")
		}
		out = styled
	}
	_, err := io.WriteString(w, out)
	return err
}
