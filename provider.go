package scangate

import "context"

// Provider is the external inference engine. This engine treats it as an
// opaque, costly call: no knowledge of its internals beyond the configured
// timeout.
type Provider interface {
	// Name returns the provider identifier (e.g. "gateway", "mock").
	Name() string

	// Analyze runs one inference call for a scan.
	Analyze(ctx context.Context, req AnalysisRequest) (ScanResult, error)
}

// AnalysisRequest is the input handed to a Provider.
type AnalysisRequest struct {
	TenantID    string    `json:"tenant_id"`
	SubjectID   string    `json:"subject_id"`
	Tier        ModelTier `json:"model_tier"`
	InputDigest string    `json:"input_digest"`
}
