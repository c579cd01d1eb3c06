// Package gateway adapts a remote HTTP inference service to the Provider
// interface. The service receives the scan fingerprint material and returns
// a reference to the stored analysis.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/clinicware/scangate"
)

// Provider calls a remote inference gateway over HTTP JSON.
type Provider struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ scangate.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithName overrides the provider name reported in events.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// New creates a gateway provider for the given base URL. The API key is
// sent as a bearer token; pass "" for unauthenticated endpoints.
func New(baseURL, apiKey string, opts ...Option) *Provider {
	p := &Provider{
		name:       "gateway",
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return p.name }

// apiRequest is the gateway analyze request format.
type apiRequest struct {
	TenantID    string `json:"tenant_id"`
	SubjectID   string `json:"subject_id"`
	ModelTier   string `json:"model_tier"`
	InputDigest string `json:"input_digest"`
}

// apiResponse is the gateway analyze response format.
type apiResponse struct {
	ID        string    `json:"id"`
	ResultRef string    `json:"result_ref"`
	ModelTier string    `json:"model_tier"`
	CreatedAt time.Time `json:"created_at"`
}

func (p *Provider) Analyze(ctx context.Context, req scangate.AnalysisRequest) (scangate.ScanResult, error) {
	body, err := json.Marshal(apiRequest{
		TenantID:    req.TenantID,
		SubjectID:   req.SubjectID,
		ModelTier:   string(req.Tier),
		InputDigest: req.InputDigest,
	})
	if err != nil {
		return scangate.ScanResult{}, fmt.Errorf("scangate: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return scangate.ScanResult{}, fmt.Errorf("scangate: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return scangate.ScanResult{}, fmt.Errorf("scangate: gateway request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return scangate.ScanResult{}, fmt.Errorf("scangate: gateway status %d: %w", httpResp.StatusCode, scangate.ErrInferenceFailed)
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return scangate.ScanResult{}, fmt.Errorf("scangate: decode response: %w", err)
	}
	if resp.ResultRef == "" {
		return scangate.ScanResult{}, fmt.Errorf("scangate: empty result_ref in response")
	}

	return scangate.ScanResult{
		ID:        resp.ID,
		ResultRef: resp.ResultRef,
		Tier:      scangate.ModelTier(resp.ModelTier),
		CreatedAt: resp.CreatedAt,
	}, nil
}
