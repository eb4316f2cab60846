package llm

import (
	"errors"
	"strings"
	"sync/atomic"
)

// ErrStreamConsumed is yielded when a stream is ranged over a second time.
var ErrStreamConsumed = errors.New("stream already consumed")

// Stream is a finite sequence of reply fragments. A non-nil error is always
// the last element. Streams are single-use.
type Stream func(yield func(string, error) bool)

// NewStream turns a producer into a single-use Stream. produce passes each
// fragment to emit and returns the terminal error; emit reports false once
// the consumer has stopped.
func NewStream(produce func(emit func(string) bool) error) Stream {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield("", ErrStreamConsumed)
			return
		}

		stopped := false
		err := produce(func(fragment string) bool {
			if stopped {
				return false
			}
			if !yield(fragment, nil) {
				stopped = true
			}
			return !stopped
		})
		if err != nil && !stopped {
			yield("", err)
		}
	}
}

// TextStream yields text as a single fragment
func TextStream(text string) Stream {
	return NewStream(func(emit func(string) bool) error {
		emit(text)
		return nil
	})
}

// ErrorStream yields only err
func ErrorStream(err error) Stream {
	return NewStream(func(func(string) bool) error {
		return err
	})
}

// Collect buffers the whole stream. On error no partial text is returned.
func Collect(s Stream) (string, error) {
	var b strings.Builder
	for fragment, err := range s {
		if err != nil {
			return "", err
		}
		b.WriteString(fragment)
	}
	return b.String(), nil
}
