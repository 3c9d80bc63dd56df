package errors

// NewBadInboundJSONError reports a request body that could not be parsed.
func NewBadInboundJSONError(err error) *ChatError {
	return &ChatError{
		Kind:    BadInboundJSON,
		Message: "request body is not valid JSON",
		err:     err,
	}
}

// NewNetworkError reports an upstream call that produced no HTTP response.
func NewNetworkError(err error) *ChatError {
	return &ChatError{
		Kind:    UpstreamNetworkFailure,
		Message: "upstream request failed",
		err:     err,
	}
}

// NewRejectedError reports a non-2xx upstream response. body should already
// be truncated and redacted by the caller.
//
// Example:
//
//	err := NewRejectedError(401, `{"error":"invalid_api_key"}`)
func NewRejectedError(statusCode int, body string) *ChatError {
	return &ChatError{
		Kind:       UpstreamRejected,
		Message:    "upstream rejected request",
		StatusCode: statusCode,
		Details: map[string]interface{}{
			"upstream_body": body,
		},
	}
}

// NewMalformedEnvelopeError reports a 2xx upstream response that could not be
// reduced to a reply.
func NewMalformedEnvelopeError(reason string, err error) *ChatError {
	return &ChatError{
		Kind:    UpstreamMalformedEnvelope,
		Message: reason,
		err:     err,
	}
}

// NewInternalError reports an unexpected server-side failure.
func NewInternalError(err error) *ChatError {
	return &ChatError{
		Kind:    InternalError,
		Message: "an internal error occurred",
		err:     err,
	}
}
