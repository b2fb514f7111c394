package model

import "time"

// Turn is one completed exchange in a conversation
type Turn struct {
	Query      string
	Strategy   Strategy
	Summary    string
	ReportPath string
	At         time.Time
}

// Conversation is an append-only sequence of turns for one session. Values are never
// modified in place; Append returns a new Conversation sharing no mutable state.
type Conversation struct {
	sessionID SessionID
	actorID   ActorID
	turns     []Turn
}

// NewConversation creates an empty conversation
func NewConversation(sessionID SessionID, actorID ActorID) *Conversation {
	return &Conversation{sessionID: sessionID, actorID: actorID}
}

func (c *Conversation) SessionID() SessionID { return c.sessionID }
func (c *Conversation) ActorID() ActorID     { return c.actorID }

// Append returns a new conversation with the turn added at the end
func (c *Conversation) Append(t Turn) *Conversation {
	turns := make([]Turn, len(c.turns), len(c.turns)+1)
	copy(turns, c.turns)
	return &Conversation{
		sessionID: c.sessionID,
		actorID:   c.actorID,
		turns:     append(turns, t),
	}
}

// Turns returns a copy of all turns, oldest first
func (c *Conversation) Turns() []Turn {
	return append([]Turn(nil), c.turns...)
}

// Len returns the number of turns
func (c *Conversation) Len() int {
	return len(c.turns)
}

// Last returns the most recent turn
func (c *Conversation) Last() (Turn, bool) {
	if len(c.turns) == 0 {
		return Turn{}, false
	}
	return c.turns[len(c.turns)-1], true
}

// Report is a rendered investigation report. It is written to a report store, never to memory.
type Report struct {
	Name      string
	Style     ReportStyle
	Markdown  string
	CreatedAt time.Time
}
