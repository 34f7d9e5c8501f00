package webhooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign_IsHexNoPrefix(t *testing.T) {
	sig := sign("s3cr3t", []byte(`{"event":"test"}`))

	assert.NotContains(t, sig, "sha256=")
	assert.Len(t, sig, 64) // hex-encoded SHA-256 digest
	for _, r := range sig {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'), "signature must be lowercase hex")
	}
}

func TestSign_Deterministic(t *testing.T) {
	body := []byte(`{"event":"processing.completed"}`)
	assert.Equal(t, sign("secret", body), sign("secret", body))
}

func TestSign_DifferentSecretsDiffer(t *testing.T) {
	body := []byte(`{"event":"processing.completed"}`)
	assert.NotEqual(t, sign("secret-a", body), sign("secret-b", body))
}

func TestSign_DifferentBodiesDiffer(t *testing.T) {
	assert.NotEqual(t, sign("secret", []byte("a")), sign("secret", []byte("b")))
}

func TestVerifySignature_RoundTrip(t *testing.T) {
	body := []byte(`{"event":"finding.added","data":{"id":"f-1"}}`)
	sig := sign("whsec_abc123", body)

	assert.True(t, VerifySignature("whsec_abc123", body, sig))
}

func TestVerifySignature_WrongSecretFails(t *testing.T) {
	body := []byte(`{"event":"finding.added"}`)
	sig := sign("whsec_abc123", body)

	assert.False(t, VerifySignature("whsec_wrong", body, sig))
}

func TestVerifySignature_TamperedBodyFails(t *testing.T) {
	body := []byte(`{"event":"finding.added"}`)
	sig := sign("whsec_abc123", body)

	assert.False(t, VerifySignature("whsec_abc123", []byte(`{"event":"finding.removed"}`), sig))
}

func TestVerifySignature_GarbageSignatureFails(t *testing.T) {
	body := []byte(`{"event":"finding.added"}`)
	assert.False(t, VerifySignature("whsec_abc123", body, "not-a-signature"))
}
