package chat

import (
	"context"
	"iter"
)

// Handlers receive the outcome of a stream. Exactly one of OnComplete,
// OnError and OnCancel is called, after every OnChunk.
type Handlers struct {
	OnChunk    func(text string)
	OnComplete func()
	OnError    func(err error)
	OnCancel   func()
}

// Subscription is a running, cancellable stream consumer
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Subscribe starts consuming the stream returned by start in a new goroutine.
// Chunks are delivered in arrival order and cancellation is checked before each one.
func Subscribe(ctx context.Context, start func(ctx context.Context) iter.Seq2[string, error], h Handlers) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer cancel()

		for text, err := range start(ctx) {
			if ctx.Err() != nil {
				call(h.OnCancel)
				return
			}
			if err != nil {
				if h.OnError != nil {
					h.OnError(err)
				}
				return
			}
			if h.OnChunk != nil {
				h.OnChunk(text)
			}
		}

		if ctx.Err() != nil {
			call(h.OnCancel)
			return
		}
		call(h.OnComplete)
	}()

	return s
}

// Cancel stops the stream. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.cancel()
}

// Done is closed once the terminal handler has returned
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the subscription has finished
func (s *Subscription) Wait() {
	<-s.done
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}
