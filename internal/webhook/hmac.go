package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
)

// SignaturePrefix is the algorithm prefix GitHub puts in X-Hub-Signature.
const SignaturePrefix = "sha1="

// Sign returns the X-Hub-Signature value for body under secret:
// "sha1=" followed by the lowercase hex HMAC-SHA1 digest.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// verifySignature reports whether signature is exactly Sign(secret, body).
//
// The comparison runs in constant time with respect to the expected value so
// the digest cannot be recovered byte by byte through response timing.
func verifySignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
