package gemini

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstream covers transport, authentication and API status failures
	ErrUpstream = errors.New("upstream AI service error")
	// ErrMalformedResponse is returned when a payload cannot be decoded into the expected shape
	ErrMalformedResponse = errors.New("malformed response from AI service")
	// ErrNoImageProduced is returned when an image call yields no image part
	ErrNoImageProduced = errors.New("no image was generated")
)

func upstreamError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
}

func malformed(op, reason string) error {
	return fmt.Errorf("%s: %w: %s", op, ErrMalformedResponse, reason)
}

// countsAgainstBreaker reports whether err says something about upstream health
func countsAgainstBreaker(err error) error {
	if err != nil && errors.Is(err, ErrUpstream) {
		return err
	}
	return nil
}
