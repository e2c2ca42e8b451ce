package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signatureHeader = "X-Hub-Signature-256"

// Verifier checks X-Hub-Signature-256 headers against the configured app secret.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier for the given shared secret. An empty secret
// produces a verifier that rejects everything: when policy requires
// verification, a missing secret must fail closed.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify computes HMAC-SHA256 over the exact raw body bytes and compares it in
// constant time against the "sha256=<hex>" header value. It never panics and
// returns false on any malformed input.
//
// Accuracy caveat: when a host adapter cannot supply the wire bytes and passes
// a re-serialized body instead, the comparison is only as good as the
// re-serialization; JSON key order or whitespace differences will fail a
// signature that was valid on the wire.
func (v *Verifier) Verify(rawBody []byte, signature string) bool {
	if len(v.secret) == 0 {
		return false
	}
	if signature == "" {
		return false
	}

	provided := strings.TrimPrefix(signature, "sha256=")
	if provided == signature {
		// Header did not carry the expected algorithm tag.
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(provided), []byte(expected))
}

// Sign produces the "sha256=<hex>" signature for the given body. Used by tests
// and by callers that need to forward payloads with a valid signature.
func (v *Verifier) Sign(rawBody []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawBody)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
