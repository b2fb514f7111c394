package repository_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/repository"
)

type countingMemory struct {
	repository.Memory
	retrieve func(ctx context.Context, memType model.MemoryType) ([]model.MemoryRecord, error)
	calls    atomic.Int32
}

func (m *countingMemory) RetrieveMemory(ctx context.Context, memType model.MemoryType, query string, actorID model.ActorID, maxResults int) ([]model.MemoryRecord, error) {
	m.calls.Add(1)
	return m.retrieve(ctx, memType)
}

func TestWithRetryWaitsForPropagation(t *testing.T) {
	// a real store whose writes appear after 150ms
	store := repository.NewInMemory(repository.WithPropagationDelay(150 * time.Millisecond))
	ctx := context.Background()

	_, err := store.SaveInvestigation(ctx, newSummary("alice", "checkout latency spike", "metrics: p99 2s"))
	gt.NoError(t, err)

	mem := repository.WithRetry(store, 2*time.Second, 20*time.Millisecond)
	records, err := mem.RetrieveMemory(ctx, model.MemoryTypeInvestigation, "checkout latency", "alice", 5)
	gt.NoError(t, err)
	gt.A(t, records).Length(1)
}

func TestWithRetryGivesUpWithEmptyResult(t *testing.T) {
	inner := &countingMemory{
		retrieve: func(ctx context.Context, memType model.MemoryType) ([]model.MemoryRecord, error) {
			return []model.MemoryRecord{}, nil
		},
	}

	mem := repository.WithRetry(inner, 100*time.Millisecond, 10*time.Millisecond)
	records, err := mem.RetrieveMemory(context.Background(), model.MemoryTypeInvestigation, "x", "alice", 5)
	gt.NoError(t, err)
	gt.A(t, records).Length(0)
	gt.True(t, inner.calls.Load() > 1)
}

func TestWithRetryDoesNotRetryErrorsOrPreferences(t *testing.T) {
	inner := &countingMemory{
		retrieve: func(ctx context.Context, memType model.MemoryType) ([]model.MemoryRecord, error) {
			if memType == model.MemoryTypePreference {
				return []model.MemoryRecord{}, nil
			}
			return nil, errors.New("connection refused")
		},
	}

	mem := repository.WithRetry(inner, time.Second, 10*time.Millisecond)

	_, err := mem.RetrieveMemory(context.Background(), model.MemoryTypeInfrastructure, "x", "alice", 5)
	gt.Error(t, err)
	gt.Equal(t, inner.calls.Load(), int32(1))

	_, err = mem.RetrieveMemory(context.Background(), model.MemoryTypePreference, "", "alice", 1)
	gt.NoError(t, err)
	gt.Equal(t, inner.calls.Load(), int32(2))
}

func TestWithRetryDisabled(t *testing.T) {
	store := repository.NewInMemory()
	gt.Equal(t, repository.WithRetry(store, 0, 0), repository.Memory(store))
}
