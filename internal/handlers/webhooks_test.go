package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/yarmarok-dev/api/internal/domain"
	"github.com/yarmarok-dev/api/internal/services"
)

func newWebhookRouter(settlements services.SettlementService) chi.Router {
	h := NewPaymentWebhookHandlers(settlements, nil)
	r := chi.NewRouter()
	r.Route("/webhooks", h.Routes)
	return r
}

func webhookRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	return httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
}

func TestPaymentWebhookConfirmedSettles(t *testing.T) {
	var captured *services.SettlePaymentCommand
	settlements := &settlementServiceStub{
		settleFn: func(_ context.Context, cmd services.SettlePaymentCommand) (services.SettlementResult, error) {
			captured = &cmd
			return services.SettlementResult{
				Record: domain.SettlementRecord{
					TransactionRef: cmd.TransactionRef,
					Rail:           "stripe",
					PaymentMethod:  domain.PaymentMethodEscrow,
					Amount:         1080,
					Currency:       "UAH",
					OrderIDs:       []string{"ord_1"},
					VerifiedAt:     time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC),
				},
			}, nil
		},
	}
	router := newWebhookRouter(settlements)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, webhookRequest(t, `{"type": "payment.confirmed", "transactionRef": "pi_abc", "orderIds": ["ord_1"]}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	if captured == nil || captured.TransactionRef != "pi_abc" || captured.ActorID != webhookActorID {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestPaymentWebhookConfirmedReplay(t *testing.T) {
	settlements := &settlementServiceStub{
		settleFn: func(_ context.Context, cmd services.SettlePaymentCommand) (services.SettlementResult, error) {
			return services.SettlementResult{
				Record:   domain.SettlementRecord{TransactionRef: cmd.TransactionRef},
				Replayed: true,
			}, nil
		},
	}
	router := newWebhookRouter(settlements)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, webhookRequest(t, `{"type": "payment.confirmed", "transactionRef": "pi_abc", "orderIds": ["ord_1"]}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for replay got %d", rec.Code)
	}
}

func TestPaymentWebhookVerificationFailureTriggersRedelivery(t *testing.T) {
	settlements := &settlementServiceStub{
		settleFn: func(context.Context, services.SettlePaymentCommand) (services.SettlementResult, error) {
			return services.SettlementResult{}, fmt.Errorf("%w: transaction still pending", services.ErrPaymentVerificationFailed)
		},
	}
	router := newWebhookRouter(settlements)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, webhookRequest(t, `{"type": "payment.confirmed", "transactionRef": "pi_abc", "orderIds": ["ord_1"]}`))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rec.Code)
	}
}

func TestPaymentWebhookPendingStartsWatch(t *testing.T) {
	var watched *services.WatchConfirmationCommand
	settlements := &settlementServiceStub{
		watchFn: func(_ context.Context, cmd services.WatchConfirmationCommand) {
			watched = &cmd
		},
	}
	router := newWebhookRouter(settlements)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, webhookRequest(t, `{"type": "payment.pending", "transactionRef": "pi_abc", "orderIds": ["ord_1", "ord_2"]}`))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d (%s)", rec.Code, rec.Body.String())
	}
	if watched == nil || watched.TransactionRef != "pi_abc" || len(watched.OrderIDs) != 2 {
		t.Fatalf("unexpected watch command %+v", watched)
	}
	var payload map[string]any
	decodeJSONBody(t, rec, &payload)
	if payload["status"] != "watching" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestPaymentWebhookUnknownTypeAcked(t *testing.T) {
	settlements := &settlementServiceStub{
		settleFn: func(context.Context, services.SettlePaymentCommand) (services.SettlementResult, error) {
			t.Fatal("unknown events must not settle")
			return services.SettlementResult{}, nil
		},
	}
	router := newWebhookRouter(settlements)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, webhookRequest(t, `{"type": "payment.refund_requested", "transactionRef": "pi_abc", "orderIds": ["ord_1"]}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var payload map[string]any
	decodeJSONBody(t, rec, &payload)
	if payload["status"] != "ignored" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestPaymentWebhookValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing ref", `{"type": "payment.confirmed", "orderIds": ["ord_1"]}`},
		{"missing order ids", `{"type": "payment.confirmed", "transactionRef": "pi_abc"}`},
		{"garbage body", `{{{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newWebhookRouter(&settlementServiceStub{})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, webhookRequest(t, tc.body))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d", rec.Code)
			}
		})
	}
}
