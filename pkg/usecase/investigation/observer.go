package investigation

import (
	"context"
	"time"

	"github.com/m-mizutani/pika/pkg/model"
)

type State string

const (
	StateReceived         State = "received"
	StateClassifying      State = "classifying"
	StateRetrievingMemory State = "retrieving_memory"
	StateDelegating       State = "delegating"
	StateAggregating      State = "aggregating"
	StateWritingMemory    State = "writing_memory"
	StateReporting        State = "reporting"
	StateDone             State = "done"
)

// Event is published on every state transition and when a specialist starts or ends
type Event struct {
	State    State
	Strategy model.Strategy
	// Domain is set for specialist progress events
	Domain  model.Domain
	Message string
	At      time.Time
}

// Observer receives investigation progress. OnEvent may be called from several
// goroutines at once.
type Observer interface {
	OnEvent(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function into an Observer
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) OnEvent(ctx context.Context, ev Event) {
	f(ctx, ev)
}

type nopObserver struct{}

func (nopObserver) OnEvent(context.Context, Event) {}
