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
	maxPushBodySize = 128 * 1024
	pushActorID     = "pubsub-push"
)

// InternalHandlers serves service-to-service endpoints, primarily the Pub/Sub
// push subscription for payment confirmations. Callers are authenticated by
// the OIDC middleware on the internal group.
type InternalHandlers struct {
	settlements services.SettlementService
	logger      services.Logger
}

// NewInternalHandlers constructs the internal handler group.
func NewInternalHandlers(settlements services.SettlementService, logger services.Logger) *InternalHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &InternalHandlers{settlements: settlements, logger: logger}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/events/payments", h.handlePaymentPush)
}

// pushEnvelope is the Pub/Sub push delivery wrapper; Data is base64 on the
// wire and decoded by encoding/json.
type pushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		MessageID  string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type paymentPushEvent struct {
	TransactionRef string   `json:"transactionRef"`
	OrderIDs       []string `json:"orderIds"`
}

func (h *InternalHandlers) handlePaymentPush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settlements == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settlement_unavailable", "settlement service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxPushBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var envelope pushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "push envelope must be valid JSON", http.StatusBadRequest))
		return
	}

	var event paymentPushEvent
	if err := json.Unmarshal(envelope.Message.Data, &event); err != nil {
		// Undecodable payloads are acked so the subscription does not loop on
		// a poison message.
		h.logger(ctx, "internal.push.malformed", map[string]any{
			"messageId": envelope.Message.MessageID,
			"error":     err.Error(),
		})
		writeJSONResponse(w, http.StatusOK, map[string]any{"status": "dropped"})
		return
	}

	ref := strings.TrimSpace(event.TransactionRef)
	if ref == "" || len(event.OrderIDs) == 0 {
		h.logger(ctx, "internal.push.malformed", map[string]any{
			"messageId": envelope.Message.MessageID,
		})
		writeJSONResponse(w, http.StatusOK, map[string]any{"status": "dropped"})
		return
	}

	result, err := h.settlements.SettlePayment(ctx, services.SettlePaymentCommand{
		TransactionRef: ref,
		OrderIDs:       event.OrderIDs,
		ActorID:        pushActorID,
	})
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"status":   "settled",
			"replayed": result.Replayed,
		})
	case errors.Is(err, services.ErrPaymentVerificationFailed):
		// Non-2xx triggers redelivery; the rail may simply not have finalised
		// the transaction yet.
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrReferenceNotFound), errors.Is(err, services.ErrOrderConflict), errors.Is(err, services.ErrOrderInvalidState):
		// Permanent failures are acked and logged; redelivery cannot fix them.
		h.logger(ctx, "internal.push.rejected", map[string]any{
			"messageId": envelope.Message.MessageID,
			"ref":       ref,
			"error":     err.Error(),
		})
		writeJSONResponse(w, http.StatusOK, map[string]any{"status": "rejected"})
	default:
		httpx.WriteError(ctx, w, httpx.NewError("settlement_error", "failed to process payment event", http.StatusInternalServerError))
	}
}
