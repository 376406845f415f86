// internal/model/wire.go
package model

import (
	"encoding/json"
	"fmt"
)

// EncodeMessage produces the broker payload for a message.
func EncodeMessage(m *Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message %d: %w", m.ID, err)
	}
	return body, nil
}

// DecodeMessage parses an inbound broker payload. A payload that does not
// parse, or parses without a server-assigned id, is a hard error; the
// delivery path must reject it rather than drop it silently.
func DecodeMessage(body []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if m.ID <= 0 {
		return nil, fmt.Errorf("decode message: missing id")
	}
	return &m, nil
}
