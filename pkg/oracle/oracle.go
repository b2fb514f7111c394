package oracle

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/model"
)

// ErrMalformedAction is returned when the model response is neither a tool call nor a
// usable final answer
var ErrMalformedAction = goerr.New("malformed oracle action")

// Action is the next step chosen by the oracle: CallTool or FinalAnswer
type Action interface {
	isAction()
}

// CallTool asks the caller to invoke one tool and report the outcome as evidence
type CallTool struct {
	Name string
	Args map[string]any
}

// FinalAnswer ends the reasoning loop
type FinalAnswer struct {
	Text       string
	Citations  []model.Citation
	Learned    []string
	Assessment model.Assessment
}

func (CallTool) isAction()    {}
func (FinalAnswer) isAction() {}

// Evidence is the outcome of one tool call requested earlier in the loop. Exactly one of
// Result and Error is set.
type Evidence struct {
	Tool   string
	Args   map[string]any
	Result string
	Error  string
}

// Failed reports whether the call produced an error instead of a result
func (e Evidence) Failed() bool {
	return e.Error != ""
}

// Request is everything the oracle sees when deciding. The same Request always
// describes the same state, so oracles hold no conversation between calls.
type Request struct {
	Domain       model.Domain
	SystemPrompt string
	Question     string
	Tools        []*model.ToolDescriptor
	Evidence     []Evidence
	// Remaining is the number of tool calls still allowed
	Remaining int
}

// Oracle decides the next action of a reasoning loop
type Oracle interface {
	Decide(ctx context.Context, req *Request) (Action, error)
}

// Func adapts a function into an Oracle
type Func func(ctx context.Context, req *Request) (Action, error)

func (f Func) Decide(ctx context.Context, req *Request) (Action, error) {
	return f(ctx, req)
}

// Scripted replays a fixed sequence of actions, one per Decide call. It returns an
// error once the script is exhausted.
type Scripted struct {
	mu      sync.Mutex
	actions []Action
	pos     int
}

// NewScripted creates an oracle that returns actions in order
func NewScripted(actions ...Action) *Scripted {
	return &Scripted{actions: actions}
}

func (s *Scripted) Decide(ctx context.Context, req *Request) (Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= len(s.actions) {
		return nil, goerr.Wrap(ErrMalformedAction, "script exhausted",
			goerr.V("domain", req.Domain),
			goerr.V("calls", s.pos))
	}
	a := s.actions[s.pos]
	s.pos++
	return a, nil
}

// Calls returns how many actions were consumed
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}
