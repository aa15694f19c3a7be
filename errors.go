package sqspipe

import (
	"errors"
	"fmt"
)

// Configuration errors returned by [Consumer.Init] and [Producer.Init].
// Both are reported before any network interaction takes place.
var (
	// ErrMissingQueueURL is returned when a Consumer or Producer is
	// initialized without a queue URL.
	ErrMissingQueueURL = errors.New("queue URL must not be empty")

	// ErrNotInitialized is returned when a method is called before Init.
	ErrNotInitialized = errors.New("client not initialized")
)

// DecodeError reports a message body that could not be decoded. It is never
// returned from [Consumer.Read]; messages with malformed bodies are logged
// and skipped by the background fetch loop.
type DecodeError struct {
	MessageID string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode body of SQS message %s: %v", e.MessageID, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
