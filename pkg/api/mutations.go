package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/valyala/fasthttp"

	"linedesk/pkg/line"
	"linedesk/pkg/logger"
	"linedesk/pkg/models"
	"linedesk/pkg/router"
	"linedesk/pkg/store"
)

// SendMessage pushes an operator message to the customer and records it once
// the platform accepted it.
func (h *Handlers) SendMessage(ctx *fasthttp.RequestCtx) {
	var req sendMessageRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Message == "" {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "userId and message are required")
		return
	}

	sent, err := h.Line.Push(h.context(), req.UserID, req.Message)
	if err != nil {
		logger.Error("send_message_push_failed", "user_id", req.UserID, "status", line.StatusCode(err), "error", err)
		h.Sink.Error(h.context(), "Failed to send message", map[string]any{"userId": req.UserID, "error": err.Error()})
		router.WriteJSON(ctx, fasthttp.StatusInternalServerError, map[string]string{
			"error":   "Failed to send message",
			"details": err.Error(),
		})
		return
	}

	msg, err := h.Store.RecordOutbound(h.context(), req.UserID, req.Message, req.AdminID, req.AdminName)
	if err != nil {
		logger.Error("send_message_record_failed", "user_id", req.UserID, "error", err)
		h.Sink.Error(h.context(), "Message delivered but not recorded", map[string]any{"userId": req.UserID, "error": err.Error()})
		router.WriteJSON(ctx, fasthttp.StatusInternalServerError, map[string]string{
			"error":   "Failed to send message",
			"details": err.Error(),
		})
		return
	}
	h.Sink.Info(h.context(), "Message sent to customer", map[string]any{"userId": req.UserID, "messageId": msg.ID, "requestId": sent.RequestID})
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]any{"status": "success", "messageData": msg, "lineResponse": sent})
}

func (h *Handlers) UpdateStatus(ctx *fasthttp.RequestCtx) {
	userID := router.Param(ctx, "userId")
	var req statusRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Status = strings.TrimSpace(req.Status)
	if req.Status == "" {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "status is required")
		return
	}
	c, err := h.Store.UpdateStatus(h.context(), userID, req.Status, req.AdminID, req.AdminName)
	if err != nil {
		h.writeCustomerError(ctx, userID, err, "Failed to update status")
		return
	}
	h.Sink.Info(h.context(), "Case status updated", map[string]any{"userId": userID, "status": req.Status, "adminId": req.AdminID})
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]any{"status": "success", "customer": c})
}

// UpdateCustomer shallow-merges an arbitrary JSON object into the customer.
func (h *Handlers) UpdateCustomer(ctx *fasthttp.RequestCtx) {
	userID := router.Param(ctx, "userId")
	var patch models.Patch
	dec := json.NewDecoder(bytes.NewReader(ctx.PostBody()))
	dec.UseNumber()
	if err := dec.Decode(&patch); err != nil || patch == nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "body must be a JSON object")
		return
	}
	c, err := h.Store.UpdateCustomer(h.context(), userID, patch)
	if err != nil {
		h.writeCustomerError(ctx, userID, err, "Failed to update customer")
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]any{"status": "success", "customer": c})
}

func (h *Handlers) writeCustomerError(ctx *fasthttp.RequestCtx, userID string, err error, msg string) {
	switch {
	case errors.Is(err, store.ErrCustomerNotFound):
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "Customer not found")
	case errors.Is(err, store.ErrVersionConflict):
		router.WriteJSONError(ctx, fasthttp.StatusConflict, "Customer was modified concurrently")
	default:
		logger.Error("customer_update_failed", "user_id", userID, "error", err)
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, msg)
	}
}

// TestLine pushes a diagnostic message, optionally with a caller-supplied
// token, and explains upstream failures. Tokens are only ever reported by
// length and shape.
func (h *Handlers) TestLine(ctx *fasthttp.RequestCtx) {
	h.Sink.Info(h.context(), "Test Line API endpoint called", nil)
	var req testLineRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || req.UserID == "" || req.Message == "" {
		router.WriteJSON(ctx, fasthttp.StatusBadRequest, map[string]any{
			"error":   "userId and message are required",
			"example": map[string]string{"userId": "U1234567890abcdef...", "message": "Hello from admin"},
		})
		return
	}

	isTestToken := req.TestAccessToken != ""
	token := req.TestAccessToken
	if token == "" {
		token = h.Credentials.AccessToken
	}
	if token == "" {
		router.WriteJSON(ctx, fasthttp.StatusBadRequest, map[string]string{
			"error":    "No LINE_CHANNEL_ACCESS_TOKEN provided or configured",
			"status":   "configuration_error",
			"solution": "Set LINE_CHANNEL_ACCESS_TOKEN or send testAccessToken in the request",
		})
		return
	}
	info := line.InspectToken(token)
	if !info.Valid {
		router.WriteJSON(ctx, fasthttp.StatusBadRequest, map[string]any{
			"error":     "Invalid LINE_CHANNEL_ACCESS_TOKEN format",
			"status":    "invalid_token_format",
			"help":      "A channel access token starts with + and is usually 170 or more characters long",
			"tokenInfo": info,
		})
		return
	}

	sent, err := h.Line.PushWithToken(h.context(), token, req.UserID, req.Message)
	if err != nil {
		status := line.StatusCode(err)
		code := status
		if code == 0 {
			code = fasthttp.StatusInternalServerError
		}
		help, solution := line.Help(status)
		h.Sink.Error(h.context(), "Line API test error", map[string]any{
			"status":      status,
			"error":       err.Error(),
			"tokenLength": info.Length,
			"isTestToken": isTestToken,
		})
		router.WriteJSON(ctx, code, map[string]any{
			"error":     "Test failed",
			"details":   err.Error(),
			"status":    status,
			"help":      help,
			"solution":  solution,
			"timestamp": h.timestamp(),
			"troubleshooting": map[string]any{
				"tokenLength": info.Length,
				"tokenFormat": info.StartsWithPlus,
				"isTestToken": isTestToken,
			},
		})
		return
	}

	h.Sink.Info(h.context(), "Test Line message sent successfully", map[string]any{"userId": req.UserID, "isTestToken": isTestToken})
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]any{
		"status":       "success",
		"message":      "Test message sent successfully!",
		"sentTo":       req.UserID,
		"sentMessage":  req.Message,
		"timestamp":    h.timestamp(),
		"lineResponse": sent,
		"tokenInfo": map[string]any{
			"length":      info.Length,
			"valid":       info.Valid,
			"isTestToken": isTestToken,
		},
	})
}
