package sqspipe

import (
	"errors"
	"time"
)

// Option is a functional option for configuring a [Consumer] or [Producer].
// Options are passed to the constructor and applied before Init is called.
type Option func(*Options)

// Options holds the resolved configuration for a [Consumer] or [Producer].
// All fields are set to sensible defaults by the constructors; use With*
// functions to override individual values.
type Options struct {
	visibilityTimeoutSeconds int32
	maxMessagesPerReceive    int32
	receiveWaitTimeSeconds   int32
	attributeNames           []string
	messageAttributeNames    []string
	prefetchLimit            int
	deleteOnRead             bool
	apiMaxRetryAttempts      int
	apiMaxRetryBackoffDelay  time.Duration
	maxExtensionAge          time.Duration
	maxInFlightMessages      int
	maxInFlightBytes         int
	sqsClient                sqsClient // Optional: injected SQS client for testing
}

func newOptions() *Options {
	return &Options{
		visibilityTimeoutSeconds: 60,
		maxMessagesPerReceive:    10,
		receiveWaitTimeSeconds:   20,
		attributeNames:           []string{"All"},
		messageAttributeNames:    []string{"All"},
		prefetchLimit:            0,
		apiMaxRetryAttempts:      5,
		apiMaxRetryBackoffDelay:  10 * time.Second,
		maxExtensionAge:          10 * time.Minute,
		maxInFlightMessages:      100,
		maxInFlightBytes:         1e6, // 1 MB
	}
}

func (o *Options) validate() error {
	if o.visibilityTimeoutSeconds < 10 || o.visibilityTimeoutSeconds > 3600 {
		return errors.New("SQS message visibility timeout must be between 10 seconds and 1 hour")
	}

	if o.maxMessagesPerReceive < 1 || o.maxMessagesPerReceive > 10 {
		return errors.New("max number of messages per SQS receive must be between 1 and 10")
	}

	if o.receiveWaitTimeSeconds < 0 || o.receiveWaitTimeSeconds > 20 {
		return errors.New("SQS receive wait time must be between 0 and 20 seconds")
	}

	if o.prefetchLimit < 0 {
		return errors.New("prefetch limit must be greater than or equal to 0")
	}

	if o.apiMaxRetryAttempts < 0 || o.apiMaxRetryAttempts > 10 {
		return errors.New("max SQS API retry attempts must be between 0 and 10")
	}

	if o.apiMaxRetryBackoffDelay < 1*time.Second || o.apiMaxRetryBackoffDelay > 30*time.Second {
		return errors.New("max SQS API retry backoff delay must be between 1 and 30 seconds")
	}

	if o.maxExtensionAge < 1*time.Minute || o.maxExtensionAge > time.Hour {
		return errors.New("max extension age must be between 1 minute and 1 hour")
	}

	if o.maxInFlightMessages < 1 {
		return errors.New("max in-flight messages must be greater than or equal to 1")
	}

	if o.maxInFlightBytes < 1e4 {
		return errors.New("max in-flight bytes must be greater than or equal to 10 KB")
	}

	return nil
}

// WithVisibilityTimeout sets the visibility timeout applied to each received
// message. While a message is in flight its timeout is extended automatically
// by the background tracker goroutine. Must be between 10 and 3600 seconds.
// Default: 60.
func WithVisibilityTimeout(seconds int32) Option {
	return func(o *Options) {
		o.visibilityTimeoutSeconds = seconds
	}
}

// WithMaxMessagesPerReceive sets the maximum number of messages returned by
// a single ReceiveMessage API call. Must be between 1 and 10. Default: 10.
func WithMaxMessagesPerReceive(n int32) Option {
	return func(o *Options) {
		o.maxMessagesPerReceive = n
	}
}

// WithReceiveWaitTime sets the long-poll wait duration for each
// ReceiveMessage API call. Longer values reduce empty responses and API
// costs; 0 selects SQS short polling. Must be between 0 and 20 seconds.
// Default: 20.
func WithReceiveWaitTime(seconds int32) Option {
	return func(o *Options) {
		o.receiveWaitTimeSeconds = seconds
	}
}

// WithAttributeNames sets the system attribute names requested for each
// received message. Default: ["All"].
func WithAttributeNames(names ...string) Option {
	return func(o *Options) {
		o.attributeNames = names
	}
}

// WithMessageAttributeNames sets the message attribute names requested for
// each received message. Default: ["All"].
func WithMessageAttributeNames(names ...string) Option {
	return func(o *Options) {
		o.messageAttributeNames = names
	}
}

// WithPrefetchLimit sets the capacity of the local buffer between the
// background fetch loop and [Consumer.Read]. The fetch loop blocks once the
// buffer holds this many unread messages, throttling the receive rate to the
// consumption rate. 0 disables prefetching entirely: each fetched message is
// handed directly to a waiting Read call before the next one is buffered.
// Must be at least 0. Default: 0.
func WithPrefetchLimit(n int) Option {
	return func(o *Options) {
		o.prefetchLimit = n
	}
}

// WithDeleteOnRead deletes each message from the queue immediately after it
// is fetched, before it is handed to [Consumer.Read]. This trades the
// default at-least-once-with-explicit-acknowledgment contract for
// fire-and-forget delivery: [Consumer.Acknowledge] becomes a no-op and a
// message lost between fetch and processing is gone. Default: off.
func WithDeleteOnRead() Option {
	return func(o *Options) {
		o.deleteOnRead = true
	}
}

// WithAPIMaxRetryAttempts sets the maximum number of retry attempts for
// failed SQS API calls. Must be between 0 and 10. Default: 5.
func WithAPIMaxRetryAttempts(n int) Option {
	return func(o *Options) {
		o.apiMaxRetryAttempts = n
	}
}

// WithAPIMaxRetryBackoffDelay sets the maximum backoff delay between
// consecutive SQS API retry attempts. Must be between 1 second and
// 30 seconds. Default: 10 seconds.
func WithAPIMaxRetryBackoffDelay(d time.Duration) Option {
	return func(o *Options) {
		o.apiMaxRetryBackoffDelay = d
	}
}

// WithMaxExtensionAge sets the maximum total duration for which an unread or
// unacknowledged message's visibility timeout may be extended after it was
// fetched. Once a message reaches this age it is dropped from extension
// tracking and will become visible in SQS again after the current timeout
// expires. Must be between 1 minute and 1 hour. Default: 10 minutes.
func WithMaxExtensionAge(d time.Duration) Option {
	return func(o *Options) {
		o.maxExtensionAge = d
	}
}

// WithMaxInFlightMessages sets the maximum number of unacknowledged messages
// before the fetch loop pauses receiving from the queue. This bounds memory
// use when processing is slower than delivery. Must be at least 1.
// Default: 100.
func WithMaxInFlightMessages(n int) Option {
	return func(o *Options) {
		o.maxInFlightMessages = n
	}
}

// WithMaxInFlightBytes sets the maximum total byte size of unacknowledged
// messages before the fetch loop pauses receiving from the queue.
// Must be at least 10 KB (10240 bytes). Default: 1 MB (1048576 bytes).
func WithMaxInFlightBytes(n int) Option {
	return func(o *Options) {
		o.maxInFlightBytes = n
	}
}

// WithSQSClient replaces the default AWS SQS client with a custom
// implementation of the internal sqsClient interface. This option is
// intended for testing with mock or stub clients.
func WithSQSClient(client sqsClient) Option {
	return func(o *Options) {
		o.sqsClient = client
	}
}
