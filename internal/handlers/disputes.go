package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/yarmarok-dev/api/internal/domain"
	"github.com/yarmarok-dev/api/internal/platform/auth"
	"github.com/yarmarok-dev/api/internal/platform/httpx"
	"github.com/yarmarok-dev/api/internal/services"
)

const maxDisputeBodySize = 16 * 1024

func (h *OrderHandlers) registerDisputeRoutes(r chi.Router) {
	r.Post("/{orderID}/disputes", h.openDispute)
	r.Get("/{orderID}/disputes/messages", h.listDisputeMessages)
	r.Post("/{orderID}/disputes/messages", h.appendDisputeMessage)
	r.Post("/{orderID}/disputes/resolve", h.resolveDispute)
}

type openDisputeRequest struct {
	Reason string `json:"reason"`
}

type disputeMessagePayload struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	AuthorID  string `json:"author_id"`
	Role      string `json:"role"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

func (h *OrderHandlers) openDispute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.disputes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dispute_service_unavailable", "dispute service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, order, ok := h.loadOrderForIdentity(w, r)
	if !ok {
		return
	}

	role, ok := disputeRoleFor(identity, order)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "only the buyer or seller may open a dispute", http.StatusForbidden))
		return
	}
	if role == domain.DisputeRoleModerator {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "moderators resolve disputes, participants open them", http.StatusForbidden))
		return
	}

	body, err := readLimitedBody(r, maxDisputeBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req openDisputeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	disputed, err := h.disputes.Open(ctx, services.OpenDisputeCommand{
		OrderID: order.ID,
		ActorID: identity.UID,
		Role:    role,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(disputed)})
}

func (h *OrderHandlers) listDisputeMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.disputes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dispute_service_unavailable", "dispute service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, order, ok := h.loadOrderForIdentity(w, r)
	if !ok {
		return
	}
	if _, ok := disputeRoleFor(identity, order); !ok {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	messages, err := h.disputes.ListMessages(ctx, order.ID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]disputeMessagePayload, 0, len(messages))
	for _, message := range messages {
		items = append(items, buildDisputeMessagePayload(message))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items})
}

type appendDisputeMessageRequest struct {
	Body string `json:"body"`
}

func (h *OrderHandlers) appendDisputeMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.disputes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dispute_service_unavailable", "dispute service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, order, ok := h.loadOrderForIdentity(w, r)
	if !ok {
		return
	}

	role, ok := disputeRoleFor(identity, order)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	body, err := readLimitedBody(r, maxDisputeBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req appendDisputeMessageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	message, err := h.disputes.AppendMessage(ctx, services.AppendDisputeMessageCommand{
		OrderID: order.ID,
		ActorID: identity.UID,
		Role:    role,
		Body:    req.Body,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildDisputeMessagePayload(message))
}

type resolveDisputeRequest struct {
	Resolution string `json:"resolution"`
	Reason     string `json:"reason"`
}

func (h *OrderHandlers) resolveDispute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.disputes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dispute_service_unavailable", "dispute service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, order, ok := h.loadOrderForIdentity(w, r)
	if !ok {
		return
	}

	if !identity.HasAnyRole(auth.RoleModerator, auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "dispute resolution requires the moderator role", http.StatusForbidden))
		return
	}

	body, err := readLimitedBody(r, maxDisputeBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req resolveDisputeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	resolution := domain.DisputeResolution(strings.ToLower(strings.TrimSpace(req.Resolution)))
	switch resolution {
	case domain.DisputeResolutionBuyer, domain.DisputeResolutionSeller:
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "resolution must be buyer or seller", http.StatusBadRequest))
		return
	}

	resolved, err := h.disputes.Resolve(ctx, services.ResolveDisputeCommand{
		OrderID:    order.ID,
		Resolution: resolution,
		ActorID:    identity.UID,
		Reason:     strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(resolved)})
}

// disputeRoleFor derives the dispute authoring role from order participation.
// Moderators and admins who are not participants act as moderators.
func disputeRoleFor(identity *auth.Identity, order services.Order) (domain.DisputeRole, bool) {
	switch {
	case identityMatches(identity, order.BuyerID):
		return domain.DisputeRoleBuyer, true
	case identityMatches(identity, order.SellerID):
		return domain.DisputeRoleSeller, true
	case identity.HasAnyRole(auth.RoleModerator, auth.RoleAdmin):
		return domain.DisputeRoleModerator, true
	default:
		return "", false
	}
}

func buildDisputeMessagePayload(message services.DisputeMessage) disputeMessagePayload {
	return disputeMessagePayload{
		ID:        message.ID,
		OrderID:   message.OrderID,
		AuthorID:  message.AuthorID,
		Role:      string(message.Role),
		Body:      message.Body,
		CreatedAt: formatTime(message.CreatedAt),
	}
}
