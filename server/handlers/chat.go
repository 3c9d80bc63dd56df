// Package handlers provides HTTP handlers for the Ainu server.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/teilomillet/ainu/errors"
	"github.com/teilomillet/ainu/prompt"
	"github.com/teilomillet/ainu/server/middleware"
	"go.uber.org/zap"
)

// Completer sends a composed request upstream and returns the reply text.
// *upstream.Client implements it.
type Completer interface {
	Complete(ctx context.Context, req prompt.ChatRequest) (string, error)
}

// ChatRequest is the inbound body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the success body of POST /api/chat.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// ChatHandler mediates a single user message: parse, compose, dispatch,
// encode. It holds no per-conversation state.
type ChatHandler struct {
	persona  prompt.Persona
	upstream Completer
	logger   *zap.Logger
}

// NewChatHandler creates a chat handler. The persona is copied and never
// changes afterwards.
func NewChatHandler(persona prompt.Persona, upstream Completer, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		persona:  persona,
		upstream: upstream,
		logger:   logger,
	}
}

// ServeHTTP implements http.Handler.
//
// Every failure, whatever its kind, produces HTTP 500 with the body
// {"error":"Something went wrong"}. The cause goes to the log only.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	message, err := parseMessage(r.Body)
	if err != nil {
		h.fail(w, err, requestID)
		return
	}

	req := prompt.Compose(message, h.persona)

	h.logger.Debug("Dispatching chat request",
		zap.String("request_id", requestID),
		zap.String("model", req.Model),
		zap.Int("message_length", len(message)),
	)

	reply, err := h.upstream.Complete(r.Context(), req)
	if err != nil {
		h.fail(w, err, requestID)
		return
	}

	if err := errors.WriteJSON(w, http.StatusOK, ChatResponse{Reply: reply}); err != nil {
		// Headers are already out; all that is left is to record it.
		h.logger.Warn("Failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}

func (h *ChatHandler) fail(w http.ResponseWriter, err error, requestID string) {
	var ce *errors.ChatError
	if !errors.As(err, &ce) {
		ce = errors.NewInternalError(err)
	}
	errors.LogError(h.logger, ce.WithRequestID(requestID))
	errors.WriteOpaque(w)
}

// parseMessage reads the inbound body. Only unparseable JSON is an error,
// including a valid value followed by trailing data: a missing, null or
// non-string message, or a non-object body, yields "".
func parseMessage(body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", errors.NewBadInboundJSONError(fmt.Errorf("read body: %w", err))
	}

	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", errors.NewBadInboundJSONError(fmt.Errorf("decode body: %w", err))
	}

	obj, ok := raw.(map[string]interface{})
	if !ok {
		return "", nil
	}
	message, _ := obj["message"].(string)
	return message, nil
}
