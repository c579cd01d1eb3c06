package scangate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultFingerprintWindow is the time bucket for cache-key derivation.
// Rapid re-scans of the same subject within one consultation land in the
// same bucket and collapse to one cache entry.
const DefaultFingerprintWindow = 4 * time.Hour

// Fingerprint is a derived cache key for a scan request.
type Fingerprint string

// ResolveFingerprint derives a stable cache key from tenant, subject, a
// coarse time bucket and model tier. Pure: same inputs within one bucket
// always yield the same key; a different tier or bucket yields a different
// key. Returns ErrNoFingerprint when the request has no subject, which
// forces a cache bypass.
func ResolveFingerprint(req ScanRequest, window time.Duration, now time.Time) (Fingerprint, error) {
	if req.SubjectID == "" {
		return "", ErrNoFingerprint
	}
	if window <= 0 {
		window = DefaultFingerprintWindow
	}

	bucket := now.UTC().Truncate(window).Unix()

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s", req.TenantID, req.SubjectID, bucket, req.Tier)
	return Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}
