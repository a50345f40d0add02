// Package agent implements engine.AgentGateway over the agent message
// protocol. Requests and replies are JSON envelopes; agents are reached over
// NATS or, for hosts without a message bus, by running a state command over
// SSH.
package agent

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ProtocolVersion is the agent message protocol version.
const ProtocolVersion = 3

// MethodGetState asks the agent for its current state.
const MethodGetState = "get_state"

// Request is a message sent to an agent.
type Request struct {
	Protocol  int    `json:"protocol"`
	Method    string `json:"method"`
	Arguments []any  `json:"arguments"`
	ReplyTo   string `json:"reply_to"`
}

// Response is an agent reply. Exactly one of Value or Exception is set.
type Response struct {
	Value     json.RawMessage `json:"value,omitempty"`
	Exception *Exception      `json:"exception,omitempty"`
}

// Exception is an error raised by the agent while handling a request.
type Exception struct {
	Message string `json:"message"`
}

// Error implements error.
func (e *Exception) Error() string {
	return fmt.Sprintf("agent exception: %s", e.Message)
}

// NewGetStateRequest builds a get_state request with a unique reply subject
// under prefix.
func NewGetStateRequest(replyPrefix string) *Request {
	return &Request{
		Protocol:  ProtocolVersion,
		Method:    MethodGetState,
		Arguments: []any{},
		ReplyTo:   fmt.Sprintf("%s.%s", replyPrefix, uuid.NewString()),
	}
}

// Encode serializes the request.
func (r *Request) Encode() ([]byte, error) {
	if r.Method == "" {
		return nil, fmt.Errorf("request method is required")
	}
	if r.Arguments == nil {
		r.Arguments = []any{}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return data, nil
}

// DecodeResponse parses a reply envelope and returns the reported value.
// Numbers are kept as json.Number. The value is returned as decoded; its
// shape is checked by the verifier, not here.
func DecodeResponse(data []byte) (any, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if resp.Exception != nil {
		return nil, resp.Exception
	}
	if len(resp.Value) == 0 {
		return nil, fmt.Errorf("response carries neither value nor exception")
	}

	return decodeValue(resp.Value)
}

// decodeValue decodes a raw JSON document keeping numbers as json.Number.
func decodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return value, nil
}
