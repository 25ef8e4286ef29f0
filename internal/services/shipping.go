package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultShippingTimeout = 5 * time.Second

// HTTPShippingResolverConfig configures the carrier rate client.
type HTTPShippingResolverConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
}

type httpShippingResolver struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPShippingResolver builds the resolver calling the external carrier
// rate API. Every quote call runs under a bounded timeout; any failure is
// surfaced as ErrShippingUnavailable so the orchestrator can abort the
// affected partition.
func NewHTTPShippingResolver(cfg HTTPShippingResolverConfig) (ShippingResolver, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("shipping resolver: base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultShippingTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &httpShippingResolver{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		timeout: timeout,
		client:  client,
	}, nil
}

type shippingRateRequest struct {
	Method string             `json:"method"`
	Items  []shippingRateItem `json:"items"`
}

type shippingRateItem struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type shippingRateResponse struct {
	Cost int64 `json:"cost"`
}

func (r *httpShippingResolver) Quote(ctx context.Context, req ShippingQuoteRequest) (int64, error) {
	if len(req.Items) == 0 {
		return 0, fmt.Errorf("%w: no items to quote", ErrInvalidInput)
	}

	payload := shippingRateRequest{Method: string(req.Method)}
	for _, item := range req.Items {
		payload.Items = append(payload.Items, shippingRateItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: encode rate request: %v", ErrShippingUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rates", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrShippingUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrShippingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: carrier returned status %d", ErrShippingUnavailable, resp.StatusCode)
	}

	var decoded shippingRateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("%w: decode rate response: %v", ErrShippingUnavailable, err)
	}
	if decoded.Cost < 0 {
		return 0, fmt.Errorf("%w: carrier returned negative cost", ErrShippingUnavailable)
	}
	return decoded.Cost, nil
}

// cachingShippingResolver fronts the carrier with a TTL cache so repeated
// checkouts of the same partition shape skip the network round trip.
type cachingShippingResolver struct {
	inner ShippingResolver
	ttl   time.Duration
	now   func() time.Time

	mu sync.RWMutex
	m  map[string]shippingCacheEntry
}

type shippingCacheEntry struct {
	cost    int64
	expires time.Time
}

// NewCachingShippingResolver wraps a resolver with a TTL quote cache.
func NewCachingShippingResolver(inner ShippingResolver, ttl time.Duration, clock func() time.Time) (ShippingResolver, error) {
	if inner == nil {
		return nil, errors.New("shipping resolver: inner resolver is required")
	}
	if ttl <= 0 {
		return inner, nil
	}
	now := clock
	if now == nil {
		now = time.Now
	}
	return &cachingShippingResolver{
		inner: inner,
		ttl:   ttl,
		now:   func() time.Time { return now().UTC() },
		m:     make(map[string]shippingCacheEntry),
	}, nil
}

func (c *cachingShippingResolver) Quote(ctx context.Context, req ShippingQuoteRequest) (int64, error) {
	key := buildShippingCacheKey(req)

	c.mu.RLock()
	entry, ok := c.m[key]
	c.mu.RUnlock()
	if ok {
		if c.now().After(entry.expires) {
			c.mu.Lock()
			delete(c.m, key)
			c.mu.Unlock()
		} else {
			return entry.cost, nil
		}
	}

	cost, err := c.inner.Quote(ctx, req)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.m[key] = shippingCacheEntry{cost: cost, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return cost, nil
}

func buildShippingCacheKey(req ShippingQuoteRequest) string {
	parts := []string{
		strings.TrimSpace(req.SellerID),
		strings.ToUpper(string(req.Method)),
	}
	itemParts := make([]string, len(req.Items))
	for i, item := range req.Items {
		itemParts[i] = fmt.Sprintf("%s,%d", strings.TrimSpace(item.ProductID), item.Quantity)
	}
	sort.Strings(itemParts)
	parts = append(parts, strings.Join(itemParts, ";"))
	return strings.Join(parts, "|")
}
