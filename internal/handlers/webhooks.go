package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/yarmarok-dev/api/internal/platform/httpx"
	"github.com/yarmarok-dev/api/internal/services"
)

const (
	maxWebhookBodySize = 64 * 1024
	webhookActorID     = "payment-webhook"

	webhookEventPaymentConfirmed = "payment.confirmed"
	webhookEventPaymentPending   = "payment.pending"
)

// PaymentWebhookHandlers receives payment rail notifications. Request
// authenticity is enforced by the HMAC middleware on the webhook group.
type PaymentWebhookHandlers struct {
	settlements services.SettlementService
	logger      services.Logger
}

// NewPaymentWebhookHandlers constructs the webhook handler group.
func NewPaymentWebhookHandlers(settlements services.SettlementService, logger services.Logger) *PaymentWebhookHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PaymentWebhookHandlers{settlements: settlements, logger: logger}
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.handlePaymentEvent)
}

type paymentWebhookRequest struct {
	Type           string   `json:"type"`
	TransactionRef string   `json:"transactionRef"`
	OrderIDs       []string `json:"orderIds"`
}

func (h *PaymentWebhookHandlers) handlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settlements == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settlement_unavailable", "settlement service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req paymentWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	eventType := strings.TrimSpace(req.Type)
	ref := strings.TrimSpace(req.TransactionRef)
	if ref == "" || len(req.OrderIDs) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "transactionRef and orderIds are required", http.StatusBadRequest))
		return
	}

	switch eventType {
	case webhookEventPaymentConfirmed:
		result, err := h.settlements.SettlePayment(ctx, services.SettlePaymentCommand{
			TransactionRef: ref,
			OrderIDs:       req.OrderIDs,
			ActorID:        webhookActorID,
		})
		if err != nil {
			h.logger(ctx, "webhook.settlement.failed", map[string]any{
				"ref":   ref,
				"error": err.Error(),
			})
			writeWebhookSettlementError(ctx, w, err)
			return
		}
		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		writeJSONResponse(w, status, buildSettlementPayload(result))

	case webhookEventPaymentPending:
		// The rail has seen the transaction but not finalised it; poll in the
		// background and ack the webhook immediately. The watch must outlive
		// the request, so its context is detached from cancellation.
		h.settlements.WatchConfirmation(context.WithoutCancel(ctx), services.WatchConfirmationCommand{
			TransactionRef: ref,
			OrderIDs:       req.OrderIDs,
		})
		writeJSONResponse(w, http.StatusAccepted, map[string]any{
			"status":          "watching",
			"transaction_ref": ref,
		})

	default:
		// Unknown event types are acked so the rail does not retry them.
		h.logger(ctx, "webhook.event.ignored", map[string]any{"type": eventType})
		writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ignored"})
	}
}

func writeWebhookSettlementError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPaymentVerificationFailed):
		// Non-2xx so the rail redelivers once the transaction finalises.
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", err.Error(), http.StatusUnprocessableEntity))
	default:
		writeOrderError(ctx, w, err)
	}
}
