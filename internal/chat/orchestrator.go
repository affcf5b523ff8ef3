package chat

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"comic-studio/backend/internal/models"
	"comic-studio/backend/pkg/logger"
	"comic-studio/backend/pkg/observability"
)

const (
	// Instruction is the system instruction for every chat completion
	Instruction = `You are a friendly AI assistant for a comic generator app. Your role is to:
1. Acknowledge user's comic script requests enthusiastically
2. Provide helpful guidance on comic script formatting
3. Explain what you'll do when generating comics
4. Be encouraging and creative

When a user sends a comic script, respond naturally as if you're about to generate their comic. Keep responses concise and friendly.`

	// AnnouncePrompt asks the model for a short completion message
	AnnouncePrompt = "Comic generation completed successfully! The user can now see their comic panels."

	// AnnounceFallback is posted when the announcement request fails
	AnnounceFallback = "✨ Comic generation completed! Your comic panels are now displayed in the comic panel area. I hope you enjoy your personalized comic story!"

	DefaultAnnounceTimeout = 30 * time.Second
)

var (
	ErrTurnInProgress = errors.New("a chat reply is still in progress")
	ErrEmptyMessage   = errors.New("message is empty")
)

// Client is the part of the AI service the chat needs
type Client interface {
	GenerateText(ctx context.Context, instruction, message string) (string, error)
	GenerateTextStream(ctx context.Context, instruction, message string) iter.Seq2[string, error]
}

// Observer is told about every message change, in order
type Observer func(msg models.ChatMessage)

// Options configure an Orchestrator
type Options struct {
	AnnounceTimeout time.Duration
	Observer        Observer
	Metrics         *observability.Metrics
	Logger          *logger.Logger
}

// Orchestrator owns one conversation log and runs at most one turn at a time
type Orchestrator struct {
	client          Client
	announceTimeout time.Duration
	observer        Observer
	metrics         *observability.Metrics
	log             *logger.Logger
	now             func() time.Time

	mu    sync.Mutex
	state State
	turn  *Turn
}

// Turn is one user message and the assistant reply streaming for it
type Turn struct {
	User        models.ChatMessage
	AssistantID string

	sub      *Subscription
	onUpdate func(models.ChatMessage)
	result   models.ChatMessage
}

// NewOrchestrator creates an orchestrator with an empty log
func NewOrchestrator(client Client, opts Options) *Orchestrator {
	if opts.AnnounceTimeout <= 0 {
		opts.AnnounceTimeout = DefaultAnnounceTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.Noop()
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetGlobal()
	}
	return &Orchestrator{
		client:          client,
		announceTimeout: opts.AnnounceTimeout,
		observer:        opts.Observer,
		metrics:         opts.Metrics,
		log:             opts.Logger.With("component", "chat"),
		now:             time.Now,
		state:           State{Phase: PhaseIdle},
	}
}

// Send appends the user's message and starts streaming the reply. onUpdate,
// if set, sees every change of the assistant message for this turn only.
// Canceling ctx cancels the turn.
func (o *Orchestrator) Send(ctx context.Context, text string, onUpdate func(models.ChatMessage)) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Phase != PhaseIdle {
		return nil, ErrTurnInProgress
	}

	if err := o.apply(UserSubmitted{Message: o.newMessage(models.RoleUser, text)}); err != nil {
		return nil, err
	}
	user := o.state.Messages[len(o.state.Messages)-1]
	placeholder := o.newMessage(models.RoleAssistant, "")
	if err := o.apply(PlaceholderOpened{Message: placeholder}); err != nil {
		return nil, err
	}

	turn := &Turn{User: user, AssistantID: placeholder.ID, onUpdate: onUpdate}
	o.turn = turn
	if onUpdate != nil {
		if pending, ok := o.state.Pending(); ok {
			onUpdate(pending)
		}
	}

	start := time.Now()
	turn.sub = Subscribe(ctx,
		func(ctx context.Context) iter.Seq2[string, error] {
			return o.client.GenerateTextStream(ctx, Instruction, text)
		},
		Handlers{
			OnChunk: func(chunk string) {
				o.dispatch(turn, ChunkReceived{Text: chunk})
			},
			OnComplete: func() {
				o.dispatch(turn, StreamCompleted{})
				o.metrics.RecordChatTurn(context.Background(), observability.OutcomeOK)
			},
			OnError: func(err error) {
				o.log.LogError(err, "chat stream failed", "message_id", turn.AssistantID, "duration", time.Since(start).String())
				o.dispatch(turn, StreamFailed{Err: err})
				o.metrics.RecordChatTurn(context.Background(), observability.OutcomeError)
			},
			OnCancel: func() {
				o.dispatch(turn, StreamCanceled{})
				o.metrics.RecordChatTurn(context.Background(), observability.OutcomeCanceled)
			},
		},
	)
	return turn, nil
}

// Note appends a user message without starting a turn. It is accepted while
// another turn is streaming.
func (o *Orchestrator) Note(text string) (models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.apply(UserNoted{Message: o.newMessage(models.RoleUser, text)}); err != nil {
		return models.ChatMessage{}, err
	}
	return o.state.Messages[len(o.state.Messages)-1], nil
}

// Cancel stops the turn in progress. It reports whether there was one.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	turn := o.turn
	o.mu.Unlock()

	if turn == nil {
		return false
	}
	turn.Cancel()
	return true
}

// Busy reports whether a turn is in flight
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Phase != PhaseIdle
}

// Messages returns a copy of the conversation log
func (o *Orchestrator) Messages() []models.ChatMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.ChatMessage(nil), o.state.Messages...)
}

// Restore replaces the log with a previously saved one. A reply that was
// still streaming when the log was saved is marked canceled.
func (o *Orchestrator) Restore(messages []models.ChatMessage) {
	restored := make([]models.ChatMessage, len(messages))
	copy(restored, messages)
	for i := range restored {
		if !restored[i].Status.Final() {
			restored[i].Status = models.MessageCanceled
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = State{Phase: PhaseIdle, Messages: restored}
	o.turn = nil
}

// AnnounceCompletion posts a short completion message without blocking the
// caller. It is detached from ctx's cancellation and bounded by the announce
// timeout. The posted message is delivered on the returned channel.
func (o *Orchestrator) AnnounceCompletion(ctx context.Context) <-chan models.ChatMessage {
	out := make(chan models.ChatMessage, 1)

	go func() {
		defer close(out)

		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.announceTimeout)
		defer cancel()

		content, err := o.client.GenerateText(actx, Instruction, AnnouncePrompt)
		if err != nil || strings.TrimSpace(content) == "" {
			if err != nil {
				o.log.Warn("completion announcement failed, using fallback", "error", err.Error())
			}
			content = AnnounceFallback
		}

		o.mu.Lock()
		defer o.mu.Unlock()
		if err := o.apply(AnnouncementPosted{Message: o.newMessage(models.RoleAssistant, content)}); err != nil {
			o.log.LogError(err, "failed to post completion announcement")
			return
		}
		out <- o.state.Messages[len(o.state.Messages)-1]
	}()

	return out
}

// dispatch applies a stream event for turn and forwards the updated placeholder
func (o *Orchestrator) dispatch(turn *Turn, e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.turn != turn {
		return
	}
	if err := o.apply(e); err != nil {
		o.log.LogError(err, "dropped chat event", "message_id", turn.AssistantID)
		return
	}

	for i := len(o.state.Messages) - 1; i >= 0; i-- {
		if m := o.state.Messages[i]; m.ID == turn.AssistantID {
			if turn.onUpdate != nil {
				turn.onUpdate(m)
			}
			if m.Status.Final() {
				turn.result = m
				o.turn = nil
			}
			break
		}
	}
}

// apply must be called with mu held. It publishes every message the event touched.
func (o *Orchestrator) apply(e Event) error {
	next, err := Reduce(o.state, e)
	if err != nil {
		return err
	}
	pendingID := o.state.PendingID
	o.state = next

	if o.observer == nil {
		return nil
	}
	switch e.(type) {
	case UserSubmitted, PlaceholderOpened, AnnouncementPosted, UserNoted:
		o.observer(next.Messages[len(next.Messages)-1])
	default:
		for i := len(next.Messages) - 1; i >= 0; i-- {
			if next.Messages[i].ID == pendingID {
				o.observer(next.Messages[i])
				break
			}
		}
	}
	return nil
}

func (o *Orchestrator) newMessage(role models.Role, content string) models.ChatMessage {
	return models.ChatMessage{
		ID:        ksuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: o.now().UTC(),
	}
}

// Cancel stops this turn's stream
func (t *Turn) Cancel() {
	if t.sub != nil {
		t.sub.Cancel()
	}
}

// Done is closed once the reply has reached a final status
func (t *Turn) Done() <-chan struct{} {
	return t.sub.Done()
}

// Wait blocks until the reply is final and returns it
func (t *Turn) Wait() models.ChatMessage {
	t.sub.Wait()
	return t.result
}
