package sqspipe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
)

// SendResult is the queue service's acknowledgment of a sent message.
// SequenceNumber is only populated for FIFO queues.
type SendResult struct {
	MessageID      string
	SequenceNumber string
}

// SendOption is a functional option applied to a single [Producer.Send] call.
type SendOption func(*sendOptions)

type sendOptions struct {
	delaySeconds    int32
	attributes      map[string]string
	groupID         string
	deduplicationID string
}

// WithDelay delays delivery of the message by the given number of seconds
// (0 to 900). Not supported on FIFO queues, where delay is a queue-level
// setting.
func WithDelay(seconds int32) SendOption {
	return func(o *sendOptions) {
		o.delaySeconds = seconds
	}
}

// WithMessageAttribute attaches a string message attribute to the message.
func WithMessageAttribute(key, value string) SendOption {
	return func(o *sendOptions) {
		if o.attributes == nil {
			o.attributes = map[string]string{}
		}

		o.attributes[key] = value
	}
}

// WithGroupID sets the SQS MessageGroupId, which determines message ordering
// within a FIFO queue. Required when sending to a FIFO queue.
func WithGroupID(id string) SendOption {
	return func(o *sendOptions) {
		o.groupID = id
	}
}

// WithDeduplicationID sets the SQS MessageDeduplicationId; SQS silently
// discards messages with a duplicate ID within the 5-minute deduplication
// window. When sending to a FIFO queue without this option, a random UUID is
// used so that every send is delivered.
func WithDeduplicationID(id string) SendOption {
	return func(o *sendOptions) {
		o.deduplicationID = id
	}
}

// Producer writes JSON-encoded payloads to an SQS queue. It is a stateless
// pass-through: transient send failures are retried by the SQS client's
// retryer, and whatever error survives that is returned to the caller
// unmasked.
//
// Create a Producer with [NewProducer], then call [Producer.Init] once
// before any other method. Init is not thread-safe; all other methods are
// safe for concurrent use after Init returns.
type Producer struct {
	client      sqsClient
	queueURL    string
	awsCfg      *aws.Config
	opts        *Options
	logger      Logger
	fifo        bool
	initialized bool
}

// NewProducer creates a Producer bound to the SQS queue at queueURL.
// Queue URLs ending in ".fifo" select FIFO send semantics (see
// [Producer.Send]).
//
// NewProducer does not connect to AWS. Call [Producer.Init] to validate the
// configuration and construct the SQS client.
func NewProducer(awsCfg *aws.Config, queueURL string, logger Logger, opts ...Option) *Producer {
	options := newOptions()

	for _, o := range opts {
		o(options)
	}

	logger = logger.
		WithField("component", "producer").
		WithField("queue_url", queueURL)

	return &Producer{
		awsCfg:   awsCfg,
		queueURL: queueURL,
		opts:     options,
		logger:   logger,
	}
}

// Init initializes the Producer: validates the queue URL and options and
// constructs the SQS client. No network calls are made. It returns the
// receiver so that initialization can be chained with [NewProducer].
//
// Init is idempotent — subsequent calls on an already-initialized Producer
// are no-ops. It is not thread-safe and must be called once during
// application startup before any concurrent access.
func (p *Producer) Init(_ context.Context) (*Producer, error) {
	if p.initialized {
		return p, nil
	}

	if p.queueURL == "" {
		return nil, fmt.Errorf("cannot create a producer: %w", ErrMissingQueueURL)
	}

	if err := p.opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid producer options: %w", err)
	}

	p.client = newSQSClient(p.awsCfg, p.opts)
	p.fifo = strings.HasSuffix(p.queueURL, ".fifo")
	p.initialized = true

	return p, nil
}

// QueueURL returns the outbound queue URL supplied to [NewProducer].
func (p *Producer) QueueURL() string {
	return p.queueURL
}

// Send encodes payload as JSON and publishes it to the queue.
//
// For standard queues, [WithDelay] postpones delivery and [WithMessageAttribute]
// attaches metadata. For FIFO queues, [WithGroupID] is required, the
// deduplication ID defaults to a random UUID (override with
// [WithDeduplicationID]), and a per-message delay is rejected.
//
// Send requires [Producer.Init] to have been called successfully.
func (p *Producer) Send(ctx context.Context, payload any, opts ...SendOption) (*SendResult, error) {
	if !p.initialized {
		return nil, ErrNotInitialized
	}

	so := &sendOptions{}
	for _, o := range opts {
		o(so)
	}

	body, err := encodeBody(payload)
	if err != nil {
		return nil, err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          &p.queueURL,
		MessageBody:       &body,
		MessageAttributes: buildMessageAttributes(so.attributes),
	}

	if p.fifo {
		if so.delaySeconds != 0 {
			return nil, errors.New("a per-message delay is not supported on FIFO queues")
		}

		if so.groupID == "" {
			return nil, errors.New("a message group ID is required when sending to a FIFO queue")
		}

		dedupID := so.deduplicationID
		if dedupID == "" {
			dedupID = uuid.NewString()
		}

		input.MessageGroupId = &so.groupID
		input.MessageDeduplicationId = &dedupID
	} else {
		input.DelaySeconds = so.delaySeconds
	}

	output, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to send SQS message: %w", err)
	}

	result := &SendResult{
		MessageID:      aws.ToString(output.MessageId),
		SequenceNumber: aws.ToString(output.SequenceNumber),
	}

	p.logger.WithField("message_id", result.MessageID).Debug("SQS message sent")

	return result, nil
}

func buildMessageAttributes(attrs map[string]string) map[string]sqstypes.MessageAttributeValue {
	if len(attrs) == 0 {
		return nil
	}

	out := make(map[string]sqstypes.MessageAttributeValue, len(attrs))
	for name, value := range attrs {
		out[name] = sqstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(value),
		}
	}

	return out
}
