package eligibility

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chartwellhealth/provider-portal/internal/app"
	"github.com/chartwellhealth/provider-portal/pkg/logger"
)

const checkPath = "/v1/ao-verifications"

// Client calls the external eligibility gateway. Transport and gateway
// failures are folded into the closed FailureReason set rather than raw
// errors so callers never match on message strings.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient builds an eligibility gateway client from configuration.
func NewClient(cfg app.GatewayConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("eligibility: gateway base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.WithModule("eligibility"),
	}, nil
}

type checkRequest struct {
	NPI string `json:"npi"`
	SSN string `json:"ssn"`
}

// CheckEligibility asks the gateway whether the SSN holder is a registered
// authorized official for the organization identified by NPI.
func (c *Client) CheckEligibility(ctx context.Context, npi, ssn string) (*Result, error) {
	payload, err := json.Marshal(checkRequest{NPI: npi, SSN: NormalizeSSN(ssn)})
	if err != nil {
		return nil, fmt.Errorf("eligibility: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+checkPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("eligibility: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("eligibility gateway unreachable", zap.Error(err))
		return &Result{Success: false, FailureReason: FailureAPIGateway}, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.log.Warn("eligibility gateway endpoint missing", zap.Int("status", resp.StatusCode))
		return &Result{Success: false, FailureReason: FailureInvalidEndpoint}, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		c.log.Warn("eligibility gateway error", zap.Int("status", resp.StatusCode))
		return &Result{Success: false, FailureReason: FailureAPIGateway}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.log.Warn("eligibility gateway read failed", zap.Error(err))
		return &Result{Success: false, FailureReason: FailureUnexpected}, nil
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		c.log.Warn("eligibility gateway returned malformed payload", zap.Error(err))
		return &Result{Success: false, FailureReason: FailureUnexpected}, nil
	}

	if !result.Success && result.FailureReason == FailureNone {
		result.FailureReason = FailureUnexpected
	}
	return &result, nil
}
