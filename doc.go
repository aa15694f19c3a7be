// Package sqspipe decouples an application from the pace of an AWS SQS
// queue. A [Consumer] prefetches messages into a bounded local buffer
// through a background long-poll loop, and a [Producer] writes JSON-encoded
// payloads back out. Message bodies are JSON documents; network transport,
// retries, and auth belong to the AWS SDK client underneath.
//
// # Consumer
//
// [Consumer.Read] blocks until a message is available and returns the
// oldest buffered one; the first call starts the fetch loop. Once the
// buffer reaches the configured prefetch limit the loop stops receiving
// until Read frees a slot, so memory stays bounded regardless of queue
// depth. A message whose body is not valid JSON is logged and skipped; it
// never reaches Read.
//
// Create a consumer with [NewConsumer] and initialise it with
// [Consumer.Init]:
//
//	consumer, err := sqspipe.NewConsumer(&awsCfg, queueURL, logger,
//	    sqspipe.WithPrefetchLimit(10),
//	).Init(ctx)
//
// Then read, process, and acknowledge:
//
//	for {
//	    msg, err := consumer.Read(ctx)
//	    if err != nil {
//	        break
//	    }
//	    process(msg)
//	    if err := consumer.Acknowledge(ctx, msg); err != nil {
//	        log.Printf("ack error: %v", err)
//	    }
//	}
//
// Acknowledging deletes the message from SQS; until then a background
// tracker extends its visibility timeout so it is not redelivered while
// still being processed. [Consumer.Release] abandons a message instead,
// leaving it to reappear after the current timeout. With [WithDeleteOnRead]
// the fetch loop deletes each message as soon as it is fetched and
// Acknowledge becomes a no-op — fire-and-forget instead of at-least-once.
//
// # Producer
//
// [Producer.Send] encodes any JSON-representable payload and publishes it:
//
//	producer, err := sqspipe.NewProducer(&awsCfg, queueURL, logger).Init(ctx)
//	result, err := producer.Send(ctx, payload,
//	    sqspipe.WithDelay(30),
//	    sqspipe.WithMessageAttribute("source", "billing"),
//	)
//
// Queue URLs ending in ".fifo" switch Send to FIFO semantics: [WithGroupID]
// becomes required and a deduplication ID is generated when none is given.
//
// # Configuration
//
// Both [Consumer] and [Producer] accept functional options that take effect
// when Init is called; Init validates them and fails fast on a missing
// queue URL or an out-of-range value. See the With* functions for available
// settings and their defaults. [NewAWSConfig] builds the shared aws.Config
// from a region and optional static credentials.
//
// # Visibility Extension
//
// Visibility extension is best-effort. If an extension call fails (for
// example due to a transient network error or SQS throttling), the message
// is dropped from tracking and will become visible in SQS again after the
// current timeout expires. Downstream processing should therefore be
// idempotent to handle potential duplicate deliveries gracefully. A message
// is never extended beyond the age set by [WithMaxExtensionAge].
package sqspipe
