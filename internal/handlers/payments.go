package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"anonfeedback-backend/internal/payment"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// WebhookHandler receives status callbacks from the hosted payment widget.
type WebhookHandler struct {
	widget   *payment.WidgetProvider
	secret   string
	validate *validator.Validate
	logger   *zap.Logger
}

func NewWebhookHandler(widget *payment.WidgetProvider, secret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		widget:   widget,
		secret:   secret,
		validate: validator.New(),
		logger:   logger,
	}
}

// --- POST /api/payments/widget/events ---

// WidgetEvent refuses every callback when no secret is configured.
func (h *WebhookHandler) WidgetEvent(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		h.logger.Error("widget webhook called but no secret is configured")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	got := r.Header.Get("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var cb payment.WidgetCallback
	if err := decodeJSON(w, r, &cb); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.validate.Struct(cb); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.widget.HandleCallback(cb); err != nil {
		if errors.Is(err, payment.ErrUnknownHandle) {
			// Usually a late callback for an attempt that was already settled
			// or pruned; acknowledged so the widget stops redelivering.
			h.logger.Warn("widget callback for unknown payment", zap.String("payment_id", cb.PaymentID))
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
