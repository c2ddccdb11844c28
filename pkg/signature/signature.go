// Package signature implements the X-Line-Signature scheme: base64 of
// HMAC-SHA256 over the raw request body keyed with the channel secret.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

const Header = "X-Line-Signature"

func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the signature of body. An empty secret or
// signature never verifies.
func Verify(secret string, body []byte, sig string) bool {
	if secret == "" || sig == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
