package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// sign computes the hex-encoded HMAC-SHA256 of body under secret (§4.5).
// Unlike the teacher's GitHub-App signature helper, the wire contract here
// carries the bare hex digest with no "sha256=" prefix.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the HMAC over body under secret and compares
// it to signature in constant time (§4.5 signature verification contract).
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
