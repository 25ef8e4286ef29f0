package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultChainTimeout = 10 * time.Second

// ChainRailConfig configures the chain gateway client used for escrow and
// direct wallet settlements.
type ChainRailConfig struct {
	BaseURL          string
	APIKey           string
	MinConfirmations int
	Timeout          time.Duration
	Client           *http.Client
}

// ChainRail looks up on-chain transfers through the platform's chain gateway.
// On-chain transactions are final; the rail only reports what it observed.
type ChainRail struct {
	baseURL          string
	apiKey           string
	minConfirmations int
	timeout          time.Duration
	client           *http.Client
}

// NewChainRail constructs a chain gateway Rail.
func NewChainRail(cfg ChainRailConfig) (*ChainRail, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("chain: base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultChainTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	minConfirmations := cfg.MinConfirmations
	if minConfirmations < 1 {
		minConfirmations = 1
	}
	return &ChainRail{
		baseURL:          baseURL,
		apiKey:           strings.TrimSpace(cfg.APIKey),
		minConfirmations: minConfirmations,
		timeout:          timeout,
		client:           client,
	}, nil
}

type chainTransactionResponse struct {
	Hash          string `json:"hash"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	From          string `json:"from"`
	To            string `json:"to"`
	Confirmations int    `json:"confirmations"`
	ConfirmedAt   string `json:"confirmed_at"`
}

// LookupTransaction fetches one transfer by hash from the gateway.
func (r *ChainRail) LookupTransaction(ctx context.Context, reference string) (Transaction, error) {
	if r == nil {
		return Transaction{}, errors.New("chain: rail is nil")
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Transaction{}, errors.New("chain: transaction reference is required")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v1/transactions/"+reference, nil)
	if err != nil {
		return Transaction{}, fmt.Errorf("chain: build lookup request: %w", err)
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Transaction{}, fmt.Errorf("chain: lookup transaction: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, reference)
	default:
		return Transaction{}, fmt.Errorf("chain: gateway returned status %d", resp.StatusCode)
	}

	var decoded chainTransactionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Transaction{}, fmt.Errorf("chain: decode transaction: %w", err)
	}

	status := StatusPending
	switch strings.ToLower(decoded.Status) {
	case "confirmed", "success":
		if decoded.Confirmations >= r.minConfirmations {
			status = StatusConfirmed
		}
	case "failed", "reverted":
		status = StatusFailed
	}

	var confirmedAt *time.Time
	if decoded.ConfirmedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, decoded.ConfirmedAt); err == nil {
			utc := parsed.UTC()
			confirmedAt = &utc
		}
	}

	return Transaction{
		Reference:   decoded.Hash,
		Status:      status,
		Amount:      decoded.Amount,
		Currency:    strings.ToUpper(decoded.Currency),
		Sender:      decoded.From,
		Recipient:   decoded.To,
		ConfirmedAt: confirmedAt,
		Raw: map[string]any{
			"confirmations": decoded.Confirmations,
		},
	}, nil
}
