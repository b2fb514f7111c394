package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/utils/logging"
)

var errNotYetVisible = errors.New("no record visible yet")

// retrying re-issues empty retrievals until a window elapses, giving recent writes time
// to propagate. Preferences are never retried.
type retrying struct {
	Memory
	window   time.Duration
	interval time.Duration
}

// WithRetry wraps m so that empty infrastructure and investigation retrievals are
// retried with exponential backoff for up to window. A window of zero returns m as is.
func WithRetry(m Memory, window, interval time.Duration) Memory {
	if window <= 0 {
		return m
	}
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &retrying{Memory: m, window: window, interval: interval}
}

func (r *retrying) RetrieveMemory(ctx context.Context, memType model.MemoryType, query string, actorID model.ActorID, maxResults int) ([]model.MemoryRecord, error) {
	if memType == model.MemoryTypePreference {
		return r.Memory.RetrieveMemory(ctx, memType, query, actorID, maxResults)
	}

	var (
		records  []model.MemoryRecord
		attempts int
	)
	op := func() error {
		attempts++
		got, err := r.Memory.RetrieveMemory(ctx, memType, query, actorID, maxResults)
		if err != nil {
			return backoff.Permanent(err)
		}
		if len(got) == 0 {
			return errNotYetVisible
		}
		records = got
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.interval
	b.MaxInterval = r.window
	b.MaxElapsedTime = r.window

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	switch {
	case err == nil:
		return records, nil
	case errors.Is(err, errNotYetVisible):
		logging.From(ctx).Debug("memory still empty after retry window",
			"type", memType,
			"attempts", attempts,
			"window", r.window)
		return []model.MemoryRecord{}, nil
	case ctx.Err() != nil:
		return nil, goerr.Wrap(ctx.Err(), "memory retrieval cancelled")
	default:
		return nil, err
	}
}
