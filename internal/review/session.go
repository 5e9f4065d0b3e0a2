package review

import (
	"fmt"

	"github.com/conorfennell/knolbot/internal/domain"
)

// State is the position of a conversation in the review state machine.
type State int

const (
	Idle State = iota
	AwaitingCommandArg
	AwaitingAnswer
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingCommandArg:
		return "awaiting_command_arg"
	case AwaitingAnswer:
		return "awaiting_answer"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session is the ephemeral review state of one conversation.
// Pending is a copy of the item row taken when the question was shown.
type Session struct {
	State    State
	Command  string
	Pending  *domain.Item
	Attempts int
}

func (s *Session) arm(item domain.Item) {
	pending := item
	s.State = AwaitingAnswer
	s.Command = ""
	s.Pending = &pending
	s.Attempts = 0
}

func (s *Session) await(command string) {
	s.State = AwaitingCommandArg
	s.Command = command
	s.Pending = nil
	s.Attempts = 0
}

func (s *Session) reset() {
	*s = Session{}
}

// Sessions holds one Session per conversation for the life of the process.
type Sessions struct {
	byConversation map[domain.ConversationID]*Session
}

func NewSessions() *Sessions {
	return &Sessions{byConversation: make(map[domain.ConversationID]*Session)}
}

// Get returns the session for conv, creating it on first contact.
func (s *Sessions) Get(conv domain.ConversationID) *Session {
	sess, ok := s.byConversation[conv]
	if !ok {
		sess = &Session{}
		s.byConversation[conv] = sess
	}
	return sess
}

// Lookup returns the session for conv without creating it.
func (s *Sessions) Lookup(conv domain.ConversationID) (*Session, bool) {
	sess, ok := s.byConversation[conv]
	return sess, ok
}
