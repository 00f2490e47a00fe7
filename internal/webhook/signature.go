// Package webhook is the trust boundary for inbound recorder events:
// signature verification plus the HTTP handler that admits transcripts
// into the resolution pipeline.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// VerifySignature reports whether the claimed signature matches the
// HMAC-SHA256 of body under secret. The provider presents signatures as hex
// or base64 depending on account age; both are accepted. Everything else —
// empty secret, malformed encoding, wrong length — fails closed.
func VerifySignature(body []byte, claimed, secret string) bool {
	if secret == "" || claimed == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	claimed = strings.TrimSpace(claimed)
	// Some providers prefix the scheme, e.g. "sha256=<hex>".
	if i := strings.IndexByte(claimed, '='); i >= 0 && !isBase64Tail(claimed, i) {
		claimed = claimed[i+1:]
	}

	if raw, err := hex.DecodeString(claimed); err == nil && len(raw) == sha256.Size {
		return hmac.Equal(raw, expected)
	}
	if raw, err := base64.StdEncoding.DecodeString(claimed); err == nil && len(raw) == sha256.Size {
		return hmac.Equal(raw, expected)
	}
	return false
}

// isBase64Tail distinguishes "sha256=..." prefixes from '=' padding at the
// end of a bare base64 signature.
func isBase64Tail(s string, i int) bool {
	return i >= len(s)-2
}
