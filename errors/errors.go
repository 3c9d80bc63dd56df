// Package errors provides the error taxonomy for the Ainu chat server.
//
// Failures are distinguished internally by Kind so that server-side logs carry
// the real cause, but every kind is reported to callers as the same opaque
// payload:
//
//	{"error":"Something went wrong"}
//
// Basic usage:
//
//	reply, err := client.Complete(ctx, req)
//	if err != nil {
//	    errors.LogError(logger, errors.NewInternalError(err).WithRequestID(requestID))
//	    errors.WriteOpaque(w)
//	    return
//	}
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// PublicMessage is the only failure text ever returned to callers.
const PublicMessage = "Something went wrong"

// opaqueBody is pre-encoded so every failure response is byte-identical.
var opaqueBody = []byte(`{"error":"` + PublicMessage + `"}` + "\n")

// Kind classifies a failure. Kinds are internal: they appear in logs and
// metrics, never in response bodies.
type Kind string

const (
	// BadInboundJSON means the request body was not parseable JSON.
	BadInboundJSON Kind = "bad_inbound_json"
	// UpstreamNetworkFailure means no HTTP response was obtained
	// (DNS, TCP, TLS, timeout, cancellation).
	UpstreamNetworkFailure Kind = "upstream_network_failure"
	// UpstreamRejected means the provider answered with a non-2xx status.
	UpstreamRejected Kind = "upstream_rejected"
	// UpstreamMalformedEnvelope means a 2xx response lacked choices[0].message.content.
	UpstreamMalformedEnvelope Kind = "upstream_malformed_envelope"
	// InternalError covers everything else, including recovered panics.
	InternalError Kind = "internal_error"
)

// ChatError carries a failure kind plus the context needed to diagnose it.
// It is never serialized to clients.
type ChatError struct {
	// Kind categorizes the failure
	Kind Kind
	// Message is a short server-side description
	Message string
	// StatusCode is the upstream HTTP status, when one was received
	StatusCode int
	// RequestID links the error to a specific inbound request
	RequestID string
	// Details holds extra diagnostic fields
	Details map[string]interface{}

	err error
}

// Error implements the error interface.
func (e *ChatError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ChatError) Unwrap() error {
	return e.err
}

// Is matches on Kind only, so errors.Is(err, &ChatError{Kind: UpstreamRejected})
// works regardless of the other fields.
func (e *ChatError) Is(target error) bool {
	t, ok := target.(*ChatError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithRequestID returns e after tagging it with the inbound request ID.
func (e *ChatError) WithRequestID(requestID string) *ChatError {
	e.RequestID = requestID
	return e
}

// KindOf reports the Kind of the first ChatError in err's chain,
// or InternalError when there is none.
func KindOf(err error) Kind {
	var ce *ChatError
	if As(err, &ce) {
		return ce.Kind
	}
	return InternalError
}

// WriteOpaque writes the public failure response: HTTP 500 with a fixed body.
func WriteOpaque(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write(opaqueBody)
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, err = w.Write(append(body, '\n'))
	return err
}
