package chat

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comic-studio/backend/internal/models"
	"comic-studio/backend/pkg/logger"
)

type fakeClient struct {
	chunks    []string
	failAfter int // fail once this many chunks were yielded; <0 never
	block     chan struct{}

	text    string
	textErr error

	mu         sync.Mutex
	textCtxErr error
	prompts    []string
}

func (f *fakeClient) GenerateText(ctx context.Context, instruction, message string) (string, error) {
	f.mu.Lock()
	f.textCtxErr = ctx.Err()
	f.prompts = append(f.prompts, message)
	f.mu.Unlock()
	return f.text, f.textErr
}

func (f *fakeClient) GenerateTextStream(ctx context.Context, instruction, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for i, c := range f.chunks {
			if f.failAfter >= 0 && i == f.failAfter {
				yield("", errors.New("stream broke"))
				return
			}
			if !yield(c, nil) {
				return
			}
		}
		if f.block != nil {
			select {
			case <-f.block:
			case <-ctx.Done():
				yield("", ctx.Err())
				return
			}
		}
		if f.failAfter >= 0 && f.failAfter == len(f.chunks) {
			yield("", errors.New("stream broke"))
		}
	}
}

type recorder struct {
	mu   sync.Mutex
	msgs []models.ChatMessage
}

func (r *recorder) observe(m models.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) all() []models.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ChatMessage(nil), r.msgs...)
}

func newTestOrchestrator(client Client, rec *recorder) *Orchestrator {
	opts := Options{Logger: logger.Discard(), AnnounceTimeout: time.Second}
	if rec != nil {
		opts.Observer = rec.observe
	}
	return NewOrchestrator(client, opts)
}

func TestSendStreamsReply(t *testing.T) {
	client := &fakeClient{chunks: []string{"Great ", "script", "!"}, failAfter: -1}
	rec := &recorder{}
	o := newTestOrchestrator(client, rec)

	var updates []string
	turn, err := o.Send(context.Background(), "  Cat: Hi!  ", func(m models.ChatMessage) {
		updates = append(updates, m.Content)
	})
	require.NoError(t, err)

	final := turn.Wait()
	assert.Equal(t, "Great script!", final.Content)
	assert.Equal(t, models.MessageComplete, final.Status)
	assert.Equal(t, []string{"", "Great ", "Great script", "Great script!", "Great script!"}, updates)

	msgs := o.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "Cat: Hi!", msgs[0].Content)
	assert.Equal(t, turn.User.ID, msgs[0].ID)
	assert.Equal(t, turn.AssistantID, msgs[1].ID)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
	assert.False(t, o.Busy())

	observed := rec.all()
	require.NotEmpty(t, observed)
	assert.Equal(t, msgs[0].ID, observed[0].ID, "user message is published first")
	assert.Equal(t, msgs[1], observed[len(observed)-1])
}

func TestSendFailureAfterChunksShowsApology(t *testing.T) {
	client := &fakeClient{chunks: []string{"one", "two"}, failAfter: 2}
	o := newTestOrchestrator(client, nil)

	turn, err := o.Send(context.Background(), "hello", nil)
	require.NoError(t, err)

	final := turn.Wait()
	assert.Equal(t, ApologyMessage, final.Content)
	assert.Equal(t, models.MessageFailed, final.Status)
}

func TestSendRejectsEmptyAndConcurrentTurns(t *testing.T) {
	client := &fakeClient{chunks: []string{"a"}, failAfter: -1, block: make(chan struct{})}
	o := newTestOrchestrator(client, nil)

	_, err := o.Send(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	turn, err := o.Send(context.Background(), "first", nil)
	require.NoError(t, err)
	assert.True(t, o.Busy())

	_, err = o.Send(context.Background(), "second", nil)
	assert.ErrorIs(t, err, ErrTurnInProgress)

	close(client.block)
	turn.Wait()

	_, err = o.Send(context.Background(), "third", nil)
	assert.NoError(t, err)
}

func TestCancelKeepsPartialReply(t *testing.T) {
	client := &fakeClient{chunks: []string{"Once ", "upon"}, failAfter: -1, block: make(chan struct{})}
	o := newTestOrchestrator(client, nil)

	got := make(chan string, 10)
	turn, err := o.Send(context.Background(), "tell me a story", func(m models.ChatMessage) {
		got <- m.Content
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs := o.Messages()
		return msgs[1].Content == "Once upon"
	}, time.Second, 5*time.Millisecond)

	assert.True(t, o.Cancel())
	final := turn.Wait()
	assert.Equal(t, "Once upon", final.Content)
	assert.Equal(t, models.MessageCanceled, final.Status)
	assert.False(t, o.Busy())
	assert.False(t, o.Cancel(), "nothing left to cancel")
}

func TestAnnounceCompletion(t *testing.T) {
	client := &fakeClient{text: "Your comic is ready!"}
	o := newTestOrchestrator(client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg, ok := <-o.AnnounceCompletion(ctx)
	require.True(t, ok)
	assert.Equal(t, "Your comic is ready!", msg.Content)
	assert.Equal(t, models.RoleAssistant, msg.Role)
	assert.Equal(t, models.MessageComplete, msg.Status)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.NoError(t, client.textCtxErr, "announcement outlives the caller")
	assert.Equal(t, []string{AnnouncePrompt}, client.prompts)
}

func TestAnnounceCompletionFallback(t *testing.T) {
	client := &fakeClient{textErr: errors.New("quota exceeded")}
	o := newTestOrchestrator(client, nil)

	msg := <-o.AnnounceCompletion(context.Background())
	assert.Equal(t, AnnounceFallback, msg.Content)
	assert.Equal(t, []models.ChatMessage{msg}, o.Messages())
}

func TestRestoreMarksStreamingCanceled(t *testing.T) {
	o := newTestOrchestrator(&fakeClient{failAfter: -1}, nil)
	o.Restore([]models.ChatMessage{
		{ID: "1", Role: models.RoleUser, Content: "hi", Status: models.MessageComplete},
		{ID: "2", Role: models.RoleAssistant, Content: "hel", Status: models.MessageStreaming},
	})

	msgs := o.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.MessageCanceled, msgs[1].Status)
	assert.False(t, o.Busy())
}
