package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/resilience"
)

var tracer = otel.Tracer("client")

// FraudRegistryClient asks the fraud registry whether a recipient account
// was reported.
type FraudRegistryClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewFraudRegistryClient creates a new FraudRegistryClient.
func NewFraudRegistryClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *FraudRegistryClient {
	return &FraudRegistryClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
	}
}

type fraudReport struct {
	Reported bool   `json:"reported"`
	Reason   string `json:"reason,omitempty"`
}

// IsReported looks the account up with retry, circuit breaker, and tracing.
func (c *FraudRegistryClient) IsReported(ctx context.Context, bank, account string) (bool, error) {
	ctx, span := tracer.Start(ctx, "FraudRegistryClient.IsReported")
	defer span.End()
	span.SetAttributes(attribute.String("recipient.bank", bank))

	var report fraudReport
	err := resilience.Call(ctx, c.cb, c.cfg, "fraud-registry", func() error {
		q := url.Values{"bank": {bank}, "account": {domain.NormalizeAccount(account)}}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/reports?"+q.Encode(), nil)
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
			report = fraudReport{}
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return resilience.Permanent(fmt.Errorf("fraud registry returned status %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("fraud registry returned status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&report)
	})
	if err != nil {
		return false, wrapExternal("fraud-registry", err)
	}

	span.SetAttributes(attribute.Bool("recipient.reported", report.Reported))
	return report.Reported, nil
}

// wrapExternal keeps breaker and timeout errors as they are and wraps the
// rest as external service failures.
func wrapExternal(service string, err error) error {
	var open *domain.ErrCircuitOpen
	var timeout *domain.ErrTimeout
	if errors.As(err, &open) || errors.As(err, &timeout) {
		return err
	}
	return &domain.ErrExternalService{Service: service, Err: err}
}
