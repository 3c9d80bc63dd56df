// Package middleware provides HTTP middleware for the Ainu server.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/teilomillet/ainu/errors"
)

// RequestID middleware adds a unique request ID to the context
// and sets it in the response header. A caller-supplied X-Request-ID is
// reused only if it is a UUID, so arbitrary text never reaches the logs.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		if provided, err := uuid.Parse(r.Header.Get(errors.RequestIDHeader)); err == nil {
			requestID = provided.String()
		}

		w.Header().Set(errors.RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request ID stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
