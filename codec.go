package sqspipe

import (
	"encoding/json"
	"fmt"
)

// encodeBody serializes a message payload to the JSON wire format used for
// SQS message bodies. decodeBody reverses it, so for any JSON-representable
// payload p, decodeBody(encodeBody(p)) == p.
func encodeBody(payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode message payload: %w", err)
	}

	return string(b), nil
}

// decodeBody parses a raw SQS message body as JSON. A malformed body yields
// a *DecodeError; the fetch loop treats that as drop-and-continue.
func decodeBody(messageID, body string) (any, error) {
	var payload any

	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, &DecodeError{MessageID: messageID, Err: err}
	}

	return payload, nil
}
