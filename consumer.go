package sqspipe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	// receiveRetryDelay is slept after a failed ReceiveMessage call so that a
	// persistent service error does not hammer the SQS API.
	receiveRetryDelay = 5 * time.Second

	// inFlightCheckDelay is slept between capacity checks while the fetch
	// loop is paused on the in-flight limit.
	inFlightCheckDelay = 2 * time.Second
)

// Consumer reads messages from an SQS queue ahead of the application that
// processes them. A background fetch loop long-polls the queue and decodes
// each message body into a [Message] held in a bounded local buffer;
// [Consumer.Read] removes and returns the oldest buffered message, blocking
// while the buffer is empty. Once the buffer is full the fetch loop stops
// receiving until Read frees a slot, so memory stays bounded no matter how
// fast the queue produces.
//
// Create a Consumer with [NewConsumer], then call [Consumer.Init] once
// before any other method. Init is not thread-safe; all other methods are
// safe for concurrent use after Init returns.
type Consumer struct {
	client      sqsClient
	queueURL    string
	awsCfg      *aws.Config
	opts        *Options
	logger      Logger
	buffer      chan *Message
	tracker     *inFlightTracker
	trackerCh   chan *inFlightMessage
	runCtx      context.Context
	fetchOnce   sync.Once
	initialized bool
}

// NewConsumer creates a Consumer bound to the SQS queue at queueURL.
//
// Functional options may be passed to override defaults (see With*
// functions). The logger is automatically enriched with "component" and
// "queue_url" fields.
//
// NewConsumer does not connect to AWS. Call [Consumer.Init] to validate the
// configuration and construct the SQS client.
func NewConsumer(awsCfg *aws.Config, queueURL string, logger Logger, opts ...Option) *Consumer {
	options := newOptions()

	for _, o := range opts {
		o(options)
	}

	logger = logger.
		WithField("component", "consumer").
		WithField("queue_url", queueURL)

	return &Consumer{
		awsCfg:    awsCfg,
		queueURL:  queueURL,
		opts:      options,
		trackerCh: make(chan *inFlightMessage, 1000),
		logger:    logger,
	}
}

// Init initializes the Consumer: validates the queue URL and options,
// constructs the SQS client, allocates the prefetch buffer, and starts the
// background in-flight tracker goroutine. No network calls are made.
// It returns the receiver so that initialization can be chained with
// [NewConsumer]:
//
//	consumer, err := sqspipe.NewConsumer(&awsCfg, queueURL, logger).Init(ctx)
//
// The provided context governs the background goroutines, including the
// fetch loop started lazily by the first [Consumer.Read]; cancelling it
// shuts them down cleanly.
//
// Init is idempotent — subsequent calls on an already-initialized Consumer
// are no-ops. It is not thread-safe and must be called once during
// application startup before any concurrent access.
func (c *Consumer) Init(ctx context.Context) (*Consumer, error) {
	if c.initialized {
		return c, nil
	}

	if c.queueURL == "" {
		return nil, fmt.Errorf("cannot create a consumer: %w", ErrMissingQueueURL)
	}

	if err := c.opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid consumer options: %w", err)
	}

	c.client = newSQSClient(c.awsCfg, c.opts)
	c.buffer = make(chan *Message, c.opts.prefetchLimit)
	c.tracker = newInFlightTracker(c.opts, c.logger)

	// In delete-on-read mode nothing stays in flight after the fetch, so
	// there is no visibility to extend.
	if !c.opts.deleteOnRead {
		go c.tracker.run(ctx, c.trackerCh)
	}

	c.runCtx = ctx
	c.initialized = true

	return c, nil
}

// QueueURL returns the inbound queue URL supplied to [NewConsumer].
func (c *Consumer) QueueURL() string {
	return c.queueURL
}

// Read removes and returns the oldest buffered message, blocking while the
// buffer is empty. Messages are returned in the order their receive calls
// delivered them; a message whose body fails to decode is logged, skipped,
// and never surfaces here.
//
// The first call starts the background fetch loop; that loop runs under the
// context given to [Consumer.Init], while ctx only bounds this call — cancel
// it to abandon a blocked Read without affecting the Consumer.
//
// Read is safe for concurrent use, though each message is delivered to
// exactly one caller.
func (c *Consumer) Read(ctx context.Context) (*Message, error) {
	if !c.initialized {
		return nil, ErrNotInitialized
	}

	c.fetchOnce.Do(func() {
		go c.fetchLoop(c.runCtx)
	})

	// Drain already-buffered messages even when the Consumer's own context
	// has been cancelled.
	select {
	case msg := <-c.buffer:
		return msg, nil
	default:
	}

	select {
	case msg := <-c.buffer:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.runCtx.Done():
		return nil, c.runCtx.Err()
	}
}

// Acknowledge deletes msg from the queue, signalling successful processing.
// This is the only way a message leaves the remote queue unless delete-on-
// read is configured, in which case Acknowledge is a no-op because the fetch
// loop already deleted the message.
//
// Acknowledge is a pass-through, not an idempotence guarantee: calling it
// twice for the same message issues two delete calls, and a delete that
// fails (for example because the receipt handle expired) is returned to the
// caller, since it implies the message may be redelivered.
func (c *Consumer) Acknowledge(ctx context.Context, msg *Message) error {
	if !c.initialized {
		return ErrNotInitialized
	}

	if c.opts.deleteOnRead {
		return nil
	}

	if err := c.deleteMessage(ctx, msg.MessageID, msg.ReceiptHandle); err != nil {
		return err
	}

	if msg.tracking != nil {
		msg.tracking.settle()
	}

	return nil
}

// Release abandons msg without deleting it: visibility extension stops and
// SQS redelivers the message after the current visibility timeout expires.
func (c *Consumer) Release(msg *Message) {
	if msg.tracking != nil {
		msg.tracking.settle()
	}

	c.logger.WithField("message_id", msg.MessageID).Debug("SQS message released for redelivery")
}

// fetchLoop long-polls the queue until ctx is cancelled. One loop runs per
// Consumer, started by the first Read call. On a transient receive error it
// logs the failure and retries after a fixed backoff.
func (c *Consumer) fetchLoop(ctx context.Context) {
	c.logger.Info("SQS fetch loop started")
	defer c.logger.Info("SQS fetch loop exited")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			err := c.fetch(ctx)

			// No error means we keep fetching; an empty receive is not an
			// error, the long-poll wait already rate-limits the next call.
			if err == nil {
				continue
			}

			if ctx.Err() != nil {
				return
			}

			// The delay prevents hammering the SQS API (and excessive logging) in case of persistent errors
			c.logger.Errorf("Error receiving from SQS queue %s: %v", c.queueURL, err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveRetryDelay):
			}
		}
	}
}

func (c *Consumer) fetch(ctx context.Context) error {
	// First check if we are allowed to fetch more messages, based on the
	// number and size of messages still awaiting acknowledgment.
	for !c.opts.deleteOnRead && !c.tracker.hasCapacity() {
		c.logger.Debug("In-flight message limit reached, pausing SQS receive")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(inFlightCheckDelay):
		}
	}

	input := &sqs.ReceiveMessageInput{
		QueueUrl:              &c.queueURL,
		MaxNumberOfMessages:   c.opts.maxMessagesPerReceive,
		VisibilityTimeout:     c.opts.visibilityTimeoutSeconds,
		WaitTimeSeconds:       c.opts.receiveWaitTimeSeconds,
		AttributeNames:        queueAttributeNames(c.opts.attributeNames),
		MessageAttributeNames: c.opts.messageAttributeNames,
	}

	output, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to receive SQS messages: %w", err)
	}

	now := time.Now()

	for _, m := range output.Messages {
		msgID := aws.ToString(m.MessageId)
		receiptHandle := aws.ToString(m.ReceiptHandle)
		rawBody := aws.ToString(m.Body)

		body, err := decodeBody(msgID, rawBody)
		if err != nil {
			c.logger.WithField("message_id", msgID).Errorf("Dropping SQS message with malformed body: %v", err)
			continue
		}

		msg := &Message{
			MessageID:         msgID,
			Body:              body,
			ReceiptHandle:     receiptHandle,
			Attributes:        m.Attributes,
			MessageAttributes: flattenMessageAttributes(m.MessageAttributes),
			ReceivedAt:        now,
		}

		if c.opts.deleteOnRead {
			// Fire-and-forget mode: the message is gone from the queue
			// before the application sees it. A failed delete is logged and
			// the message delivered anyway; SQS will redeliver it.
			if err := c.deleteMessage(ctx, msgID, receiptHandle); err != nil {
				c.logger.WithField("message_id", msgID).Errorf("Delete-on-read failed: %v", err)
			}
		} else {
			tracked := newInFlightMessage(msgID, c.opts.visibilityTimeoutSeconds, len(rawBody))
			tracked.setExtendFunc(func(extCtx context.Context) error {
				return c.changeMessageVisibility(extCtx, msgID, receiptHandle)
			})
			msg.tracking = tracked

			if err := trySend(ctx, tracked, c.trackerCh); err != nil {
				return err
			}
		}

		// Blocks while the buffer is full; this is the backpressure that
		// throttles the receive rate to the consumption rate.
		if err := trySend(ctx, msg, c.buffer); err != nil {
			return err
		}

		c.logger.WithField("message_id", msgID).Debug("SQS message buffered")
	}

	return nil
}

func (c *Consumer) deleteMessage(ctx context.Context, messageID, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      &c.queueURL,
		ReceiptHandle: &receiptHandle,
	}

	if _, err := c.client.DeleteMessage(ctx, input); err != nil {
		return fmt.Errorf("failed to delete SQS message %s: %w", messageID, err)
	}

	c.logger.WithField("message_id", messageID).Debug("SQS message deleted")

	return nil
}

func (c *Consumer) changeMessageVisibility(ctx context.Context, messageID, receiptHandle string) error {
	input := &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &c.queueURL,
		ReceiptHandle:     &receiptHandle,
		VisibilityTimeout: c.opts.visibilityTimeoutSeconds,
	}

	if _, err := c.client.ChangeMessageVisibility(ctx, input); err != nil {
		return fmt.Errorf("failed to extend SQS message visibility: %w", err)
	}

	c.logger.WithFields(map[string]any{"message_id": messageID, "visibility_timeout_seconds": c.opts.visibilityTimeoutSeconds}).Debug("SQS message visibility extended")

	return nil
}

func queueAttributeNames(names []string) []sqstypes.QueueAttributeName {
	if len(names) == 0 {
		return nil
	}

	attrs := make([]sqstypes.QueueAttributeName, len(names))
	for i, name := range names {
		attrs[i] = sqstypes.QueueAttributeName(name)
	}

	return attrs
}
