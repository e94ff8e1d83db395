// Package correlate implements the request/response correlation protocol
// that runs over the bridge channel: publish a tagged request on a topic,
// await the response carrying the same correlation id on the response topic,
// bounded by a hard deadline. One Exchange instance serves any number of
// concurrent requests through a single shared inbound handler.
package correlate

import (
	"encoding/json"
	"fmt"
)

// ResponseEnvelope is one parsed inbound pub/sub message.
type ResponseEnvelope struct {
	Topic         string
	CorrelationID string
	Success       bool
	Signals       []string
	Metadata      map[string]interface{}
	Err           string
}

// HasSignal reports whether the envelope carries the named outcome signal.
func (e *ResponseEnvelope) HasSignal(name string) bool {
	for _, s := range e.Signals {
		if s == name {
			return true
		}
	}
	return false
}

// MetadataString returns the named metadata field as a string, or "" when
// absent or not a string.
func (e *ResponseEnvelope) MetadataString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	if s, ok := e.Metadata[key].(string); ok {
		return s
	}
	return ""
}

type innerMessage struct {
	CorrelationID string `json:"correlation_id"`
	Data          struct {
		Success  bool                   `json:"success"`
		Signals  []string               `json:"signals"`
		Metadata map[string]interface{} `json:"metadata"`
		Error    string                 `json:"error"`
	} `json:"data"`
}

// ParseEnvelope decodes the outer {topic, message} wrapper and the inner
// correlation document. The inner message arrives either as a JSON object or
// as a JSON string containing the serialized object.
func ParseEnvelope(raw json.RawMessage) (*ResponseEnvelope, error) {
	var outer struct {
		Topic   string          `json:"topic"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if outer.Topic == "" {
		return nil, fmt.Errorf("envelope missing topic")
	}

	inner := outer.Message
	var asString string
	if err := json.Unmarshal(inner, &asString); err == nil {
		inner = []byte(asString)
	}

	var msg innerMessage
	if err := json.Unmarshal(inner, &msg); err != nil {
		return nil, fmt.Errorf("malformed message on topic %s: %w", outer.Topic, err)
	}

	return &ResponseEnvelope{
		Topic:         outer.Topic,
		CorrelationID: msg.CorrelationID,
		Success:       msg.Data.Success,
		Signals:       msg.Data.Signals,
		Metadata:      msg.Data.Metadata,
		Err:           msg.Data.Error,
	}, nil
}
