package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// headerTracker is implemented by response writers that know whether the
// status line has gone out. The server's middleware writer implements it.
type headerTracker interface {
	Written() bool
}

// trackingWriter records whether a handler wrote anything when the
// surrounding writer cannot tell us.
type trackingWriter struct {
	http.ResponseWriter
	written bool
}

func (w *trackingWriter) WriteHeader(status int) {
	w.written = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

func (w *trackingWriter) Written() bool {
	return w.written
}

// ErrorHandler recovers panics in next, logs them and answers with the
// opaque 500. When the handler already started its response the 500 cannot
// be sent, so the panic is only logged.
func ErrorHandler(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tracker, ok := w.(headerTracker)
			if !ok {
				tw := &trackingWriter{ResponseWriter: w}
				w, tracker = tw, tw
			}

			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					err := NewInternalError(fmt.Errorf("panic: %v", rec)).
						WithRequestID(w.Header().Get(RequestIDHeader))
					started := tracker.Written()
					LogError(logger, err,
						zap.Bool("response_started", started),
						zap.ByteString("stacktrace", debug.Stack()))
					if !started {
						WriteOpaque(w)
					}
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// LogError writes the server-side diagnostic for a failed request.
// This line is the only place a failure's cause is recorded.
func LogError(logger *zap.Logger, err error, extra ...zap.Field) {
	var ce *ChatError
	if As(err, &ce) {
		fields := []zap.Field{
			zap.String("error_type", string(ce.Kind)),
			zap.String("message", ce.Message),
			zap.String("request_id", ce.RequestID),
		}
		if ce.StatusCode != 0 {
			fields = append(fields, zap.Int("status", ce.StatusCode))
		}
		if len(ce.Details) > 0 {
			fields = append(fields, zap.Any("details", ce.Details))
		}
		if ce.err != nil {
			fields = append(fields, zap.NamedError("cause", ce.err))
		}
		logger.Error("request failed", append(fields, extra...)...)
		return
	}
	logger.Error("unexpected error",
		append([]zap.Field{
			zap.Error(err),
			zap.String("error_type", string(InternalError)),
		}, extra...)...,
	)
}
