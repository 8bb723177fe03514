package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/resilience"
)

// HistoryClient fetches executed transfers from the account history API.
type HistoryClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewHistoryClient creates a new HistoryClient.
func NewHistoryClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *HistoryClient {
	return &HistoryClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
	}
}

type historyResponse struct {
	Transfers []domain.HistoricalTransfer `json:"transfers"`
}

// GetTransferHistory returns executed transfers at or after since.
func (c *HistoryClient) GetTransferHistory(ctx context.Context, accountHolderID string, since time.Time) ([]domain.HistoricalTransfer, error) {
	ctx, span := tracer.Start(ctx, "HistoryClient.GetTransferHistory")
	defer span.End()
	span.SetAttributes(attribute.String("account_holder.id", accountHolderID))

	var out historyResponse
	err := resilience.Call(ctx, c.cb, c.cfg, "history", func() error {
		u := fmt.Sprintf("%s/v1/customers/%s/transfers?%s", c.baseURL, url.PathEscape(accountHolderID),
			url.Values{"since": {since.UTC().Format(time.RFC3339)}}.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return resilience.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			out = historyResponse{}
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return resilience.Permanent(fmt.Errorf("history API returned status %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("history API returned status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return nil, wrapExternal("history", err)
	}

	span.SetAttributes(attribute.Int("transfers", len(out.Transfers)))
	return out.Transfers, nil
}
