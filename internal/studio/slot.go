package studio

import (
	"errors"
	"sync"
)

// ErrGenerationInProgress is returned when a comic request arrives while another is running
var ErrGenerationInProgress = errors.New("a comic is already being generated")

// Slot admits one holder at a time and rejects everyone else
type Slot struct {
	mu   sync.Mutex
	busy bool
}

// Acquire takes the slot or fails with ErrGenerationInProgress. The returned
// release func is idempotent.
func (s *Slot) Acquire() (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return nil, ErrGenerationInProgress
	}
	s.busy = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
		})
	}, nil
}

// Busy reports whether the slot is held
func (s *Slot) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}
