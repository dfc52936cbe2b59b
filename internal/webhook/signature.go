package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifySignature checks the platform's HMAC-SHA-256 signature over the raw
// request body. The signature header carries "sha256=<hex digest>"; a bare
// hex digest is accepted too. Malformed input yields false, never an error.
//
// The body must be the raw, unparsed bytes as received: re-serializing the
// JSON before verifying invalidates the signature.
func VerifySignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}

	signature = strings.TrimPrefix(signature, "sha256=")
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// SignBody computes the signature header value for a body. Used by tests and
// by the local gateway simulator.
func SignBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
