// Package hmacguard verifies the caller-supplied HMAC over a
// (providerConfigKey, connectionId) pair for tenants that have HMAC
// verification enabled.
package hmacguard

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/gorax/gorax/internal/authbroker/errcode"
)

// Verify checks signature (expected to be the hex-encoded HMAC-SHA256
// digest) against the canonical byte sequence
// providerConfigKey || connectionID (connectionID empty if absent),
// keyed by secret. Comparison is constant-time (hmac.Equal), never a
// byte-slice/string equality that could branch on the first mismatch.
func Verify(secret, providerConfigKey, connectionID, signature string) *errcode.Error {
	if signature == "" {
		return errcode.New(errcode.MissingHMAC, "hmac signature is required")
	}

	expected := compute(secret, providerConfigKey, connectionID)

	decoded, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(decoded, expected) {
		return errcode.New(errcode.InvalidHMAC, "hmac signature does not match")
	}
	return nil
}

// Compute returns the hex-encoded HMAC-SHA256 digest a correctly
// configured caller is expected to present.
func Compute(secret, providerConfigKey, connectionID string) string {
	return hex.EncodeToString(compute(secret, providerConfigKey, connectionID))
}

func compute(secret, providerConfigKey, connectionID string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(providerConfigKey))
	mac.Write([]byte(connectionID))
	return mac.Sum(nil)
}
