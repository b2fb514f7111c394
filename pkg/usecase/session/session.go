package session

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/model"
)

const DefaultSize = 128

// Store keeps the conversations of active sessions in process memory. The least
// recently used session is dropped when the store is full. Conversations are immutable,
// so a value returned by Get is never changed by a later Put.
type Store struct {
	cache *lru.Cache[model.SessionID, *model.Conversation]
}

// New creates a store holding at most size sessions
func New(size int) (*Store, error) {
	cache, err := lru.New[model.SessionID, *model.Conversation](size)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create session cache", goerr.V("size", size))
	}
	return &Store{cache: cache}, nil
}

// Get returns the conversation of the session, or a new empty one
func (s *Store) Get(sessionID model.SessionID, actorID model.ActorID) *model.Conversation {
	if conv, ok := s.cache.Get(sessionID); ok && conv.ActorID() == actorID {
		return conv
	}
	return model.NewConversation(sessionID, actorID)
}

// Put stores the latest conversation of its session
func (s *Store) Put(conv *model.Conversation) {
	s.cache.Add(conv.SessionID(), conv)
}

// Clear forgets the session's turns
func (s *Store) Clear(sessionID model.SessionID) {
	s.cache.Remove(sessionID)
}

// Len returns the number of stored sessions
func (s *Store) Len() int {
	return s.cache.Len()
}
