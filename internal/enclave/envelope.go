// Package enclave implements the request envelope exchanged between the
// host process and the isolated worker, the router that dispatches
// envelopes to service handlers, and the length-prefixed wire transport.
package enclave

import "encoding/json"

// Request is the inbound envelope. ServiceType and Operation select the
// handler; Payload carries the handler-specific body. Caller identifies the
// requesting tenant and keys the per-caller rate limit.
type Request struct {
	RequestID   string          `json:"requestId"`
	ServiceType string          `json:"serviceType"`
	Operation   string          `json:"operation"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Caller      string          `json:"caller,omitempty"`
}

// Response is the outbound envelope. RequestID always echoes the request,
// and exactly one Response is produced per Request.
type Response struct {
	RequestID    string          `json:"requestId"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

func failure(requestID, message string) *Response {
	return &Response{RequestID: requestID, Success: false, ErrorMessage: message}
}

func success(requestID string, payload json.RawMessage) *Response {
	return &Response{RequestID: requestID, Success: true, Payload: payload}
}
