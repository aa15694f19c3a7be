package sqspipe

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Message is a single delivery read from the inbound queue.
//
// Body holds the JSON-decoded payload. ReceiptHandle identifies this
// specific delivery and is only valid for acknowledgment until the queue's
// visibility timeout expires; after that SQS may redeliver the message under
// a new handle.
type Message struct {
	MessageID         string
	Body              any
	ReceiptHandle     string
	Attributes        map[string]string
	MessageAttributes map[string]string
	ReceivedAt        time.Time

	tracking *inFlightMessage
}

func flattenMessageAttributes(attrs map[string]sqstypes.MessageAttributeValue) map[string]string {
	if len(attrs) == 0 {
		return nil
	}

	flat := make(map[string]string, len(attrs))
	for name, value := range attrs {
		flat[name] = aws.ToString(value.StringValue)
	}

	return flat
}
