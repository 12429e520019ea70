// Package dispatch implements the duplex session loop: per connection,
// an authenticated handshake has already resolved a session by the time
// Loop is called; Loop attaches the outbound sink, pushes the initial
// placement, and then receives and dispatches typed events until the
// channel closes.
package dispatch

import (
	"encoding/json"

	"github.com/poudelpratik/fragmentrt/pkg/contracts"
)

// Message types carried in the "message_type" field of every envelope.
const (
	MessageTypeExecuteFunction = "ExecuteFunction"
	MessageTypeUpdateFragments = "UpdateFragments"
)

// Envelope is the wire shape shared by requests and responses: a
// correlation id, a type tag, and a type-dependent payload.
type Envelope struct {
	MessageID   string          `json:"message_id"`
	MessageType string          `json:"message_type"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// ExecuteFunctionRequest is the payload of an ExecuteFunction envelope.
type ExecuteFunctionRequest struct {
	FragmentID   string `json:"fragment_id"`
	FunctionName string `json:"function_name"`
	Parameters   []any  `json:"parameters"`
}

// ErrorDetail is the additive, optional `error` field on a response
// envelope: present only when the call failed.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// responseEnvelope is Envelope plus the optional error extension; kept
// distinct from Envelope so a successful response never serializes an
// empty "error" key.
type responseEnvelope struct {
	MessageID   string       `json:"message_id"`
	MessageType string       `json:"message_type"`
	Data        any          `json:"data,omitempty"`
	Error       *ErrorDetail `json:"error,omitempty"`
}

func newResponse(messageID, messageType string, data any) responseEnvelope {
	return responseEnvelope{MessageID: messageID, MessageType: messageType, Data: data}
}

func newErrorResponse(messageID, messageType string, data any, kind, message string) responseEnvelope {
	resp := newResponse(messageID, messageType, data)
	resp.Error = &ErrorDetail{Kind: kind, Message: message}
	return resp
}

func placementResponseData(placement []contracts.PlacementEntry) any {
	if placement == nil {
		return []contracts.PlacementEntry{}
	}
	return placement
}
