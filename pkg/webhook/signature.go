package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// VerifySignature recomputes the HMAC-SHA256 of body under secret and
// compares it constant-time against the header value. The header must carry
// the sha256= prefix; anything else is rejected.
func VerifySignature(body []byte, header string, secret []byte) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(strings.TrimPrefix(header, signaturePrefix)), []byte(expected))
}
