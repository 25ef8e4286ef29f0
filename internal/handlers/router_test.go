package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/yarmarok-dev/api/internal/domain"
	"github.com/yarmarok-dev/api/internal/services"
)

type systemServiceStub struct {
	healthFn func(context.Context) (domain.SystemHealthReport, error)
}

func (s *systemServiceStub) Health(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.healthFn != nil {
		return s.healthFn(ctx)
	}
	return domain.SystemHealthReport{Status: domain.HealthStatusOK}, nil
}

func TestRouterHealthz(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var payload map[string]any
	decodeJSONBody(t, rec, &payload)
	if payload["status"] != domain.HealthStatusOK {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestRouterReadyzReportsChecks(t *testing.T) {
	system := &systemServiceStub{
		healthFn: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
				},
				GeneratedAt: time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	router := NewRouter(WithHealthHandlers(NewHealthHandlers(system)))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var payload struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	decodeJSONBody(t, rec, &payload)
	if payload.Status != domain.HealthStatusOK {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if _, ok := payload.Checks["firestore"]; !ok {
		t.Fatalf("expected firestore check, got %v", payload.Checks)
	}
}

func TestRouterReadyzFailsOnErrorStatus(t *testing.T) {
	cases := []struct {
		name   string
		system *systemServiceStub
	}{
		{
			name: "collector error",
			system: &systemServiceStub{
				healthFn: func(context.Context) (domain.SystemHealthReport, error) {
					return domain.SystemHealthReport{}, errors.New("firestore unreachable")
				},
			},
		},
		{
			name: "error status",
			system: &systemServiceStub{
				healthFn: func(context.Context) (domain.SystemHealthReport, error) {
					return domain.SystemHealthReport{
						Status: domain.HealthStatusError,
						Checks: map[string]domain.SystemHealthCheck{
							"pubsub": {Status: domain.HealthStatusError, Error: "publish timeout"},
						},
					}, nil
				},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter(WithHealthHandlers(NewHealthHandlers(tc.system)))

			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected 503 got %d", rec.Code)
			}
		})
	}
}

func TestRouterReadyzWithoutSystemService(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected liveness fallback 200 got %d", rec.Code)
	}
}

func TestRouterUnknownRouteJSON(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v2/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	var payload struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}
	decodeJSONBody(t, rec, &payload)
	if payload.Error != "route_not_found" || payload.Status != http.StatusNotFound {
		t.Fatalf("unexpected envelope %+v", payload)
	}
}

func TestRouterUnregisteredGroupNotImplemented(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 got %d", rec.Code)
	}
	var payload struct {
		Error string `json:"error"`
	}
	decodeJSONBody(t, rec, &payload)
	if payload.Error != "not_implemented" {
		t.Fatalf("unexpected error code %q", payload.Error)
	}
}

func TestRouterMountsOrderRoutes(t *testing.T) {
	orders := &orderServiceStub{
		getFn: func(_ context.Context, id string) (services.Order, error) {
			order := sampleOrder(domain.OrderStatusPaid)
			order.ID = id
			return order, nil
		},
	}
	h := NewOrderHandlers(nil, nil, orders, nil, nil)
	router := NewRouter(WithOrderRoutes(h.Routes))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, identified(req, "buyer-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
}
