package chat

import (
	"errors"
	"fmt"

	"comic-studio/backend/internal/models"
)

// ApologyMessage replaces an assistant reply whose stream failed
const ApologyMessage = "Sorry, I encountered an error. Please try again!"

// ErrInvalidTransition is returned by Reduce for an event the current phase does not accept
var ErrInvalidTransition = errors.New("invalid chat transition")

// Phase is the position of the current turn
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseAwaiting  Phase = "awaiting"
	PhaseStreaming Phase = "streaming"
)

// State is the conversation log plus the turn in progress. Treat it as a value:
// Reduce never mutates its input.
type State struct {
	Phase    Phase                `json:"phase"`
	Messages []models.ChatMessage `json:"messages"`
	// PendingID is the assistant placeholder of the current turn
	PendingID string `json:"pending_id,omitempty"`
}

// Event is something that happened to the conversation
type Event interface {
	chatEvent()
}

type (
	UserSubmitted      struct{ Message models.ChatMessage }
	PlaceholderOpened  struct{ Message models.ChatMessage }
	ChunkReceived      struct{ Text string }
	StreamCompleted    struct{}
	StreamFailed       struct{ Err error }
	StreamCanceled     struct{}
	AnnouncementPosted struct{ Message models.ChatMessage }
	// UserNoted logs a user message that gets no reply of its own
	UserNoted struct{ Message models.ChatMessage }
)

func (UserSubmitted) chatEvent()      {}
func (PlaceholderOpened) chatEvent()  {}
func (ChunkReceived) chatEvent()      {}
func (StreamCompleted) chatEvent()    {}
func (StreamFailed) chatEvent()       {}
func (StreamCanceled) chatEvent()     {}
func (AnnouncementPosted) chatEvent() {}
func (UserNoted) chatEvent()          {}

// Reduce applies e to s and returns the next state
func Reduce(s State, e Event) (State, error) {
	switch ev := e.(type) {
	case UserSubmitted:
		if s.Phase != PhaseIdle {
			return s, transitionError(s, e)
		}
		if ev.Message.Content == "" {
			return s, fmt.Errorf("%w: empty user message", ErrInvalidTransition)
		}
		msg := ev.Message
		msg.Role = models.RoleUser
		msg.Status = models.MessageComplete
		s.Messages = appendMessage(s.Messages, msg)
		s.Phase = PhaseAwaiting
		return s, nil

	case PlaceholderOpened:
		if s.Phase != PhaseAwaiting || s.PendingID != "" {
			return s, transitionError(s, e)
		}
		msg := ev.Message
		msg.Role = models.RoleAssistant
		msg.Status = models.MessageStreaming
		msg.Content = ""
		s.Messages = appendMessage(s.Messages, msg)
		s.PendingID = msg.ID
		return s, nil

	case ChunkReceived:
		if s.PendingID == "" || s.Phase == PhaseIdle {
			return s, transitionError(s, e)
		}
		s.Messages = updatePending(s, func(m *models.ChatMessage) {
			m.Content += ev.Text
		})
		s.Phase = PhaseStreaming
		return s, nil

	case StreamCompleted:
		return finish(s, e, func(m *models.ChatMessage) {
			m.Status = models.MessageComplete
		})

	case StreamFailed:
		return finish(s, e, func(m *models.ChatMessage) {
			m.Content = ApologyMessage
			m.Status = models.MessageFailed
		})

	case StreamCanceled:
		return finish(s, e, func(m *models.ChatMessage) {
			m.Status = models.MessageCanceled
		})

	case AnnouncementPosted:
		msg := ev.Message
		msg.Role = models.RoleAssistant
		msg.Status = models.MessageComplete
		s.Messages = appendMessage(s.Messages, msg)
		return s, nil

	case UserNoted:
		if ev.Message.Content == "" {
			return s, fmt.Errorf("%w: empty user message", ErrInvalidTransition)
		}
		msg := ev.Message
		msg.Role = models.RoleUser
		msg.Status = models.MessageComplete
		s.Messages = appendMessage(s.Messages, msg)
		return s, nil
	}
	return s, fmt.Errorf("%w: unknown event %T", ErrInvalidTransition, e)
}

// Pending returns the placeholder of the turn in progress
func (s State) Pending() (models.ChatMessage, bool) {
	if s.PendingID == "" {
		return models.ChatMessage{}, false
	}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].ID == s.PendingID {
			return s.Messages[i], true
		}
	}
	return models.ChatMessage{}, false
}

func finish(s State, e Event, apply func(m *models.ChatMessage)) (State, error) {
	if s.PendingID == "" || s.Phase == PhaseIdle {
		return s, transitionError(s, e)
	}
	s.Messages = updatePending(s, apply)
	s.Phase = PhaseIdle
	s.PendingID = ""
	return s, nil
}

// appendMessage never shares a backing array with the previous state
func appendMessage(msgs []models.ChatMessage, msg models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, msg)
}

func updatePending(s State, apply func(m *models.ChatMessage)) []models.ChatMessage {
	out := make([]models.ChatMessage, len(s.Messages))
	copy(out, s.Messages)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].ID == s.PendingID {
			apply(&out[i])
			break
		}
	}
	return out
}

func transitionError(s State, e Event) error {
	return fmt.Errorf("%w: %T in phase %s", ErrInvalidTransition, e, s.Phase)
}
