package session_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/usecase/session"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := session.New(2)
	gt.NoError(t, err)

	conv := store.Get("s1", "alice")
	gt.Equal(t, conv.Len(), 0)

	next := conv.Append(model.Turn{Query: "is checkout slow?"})
	store.Put(next)

	got := store.Get("s1", "alice")
	gt.Equal(t, got.Len(), 1)
	gt.Equal(t, conv.Len(), 0)

	// a session is never shared across actors
	gt.Equal(t, store.Get("s1", "bob").Len(), 0)

	store.Clear("s1")
	gt.Equal(t, store.Get("s1", "alice").Len(), 0)
}

func TestStoreEvictsLeastRecentlyUsed(t *testing.T) {
	store, err := session.New(2)
	gt.NoError(t, err)

	for _, id := range []model.SessionID{"s1", "s2", "s3"} {
		store.Put(model.NewConversation(id, "alice").Append(model.Turn{Query: string(id)}))
	}
	gt.Equal(t, store.Len(), 2)
	gt.Equal(t, store.Get("s1", "alice").Len(), 0)
	gt.Equal(t, store.Get("s3", "alice").Len(), 1)
}

func TestNewRejectsInvalidSize(t *testing.T) {
	_, err := session.New(0)
	gt.Error(t, err)
}
