package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// HeaderHMAC carries the payload signature.
const HeaderHMAC = "X-Shopify-Hmac-Sha256"

// HMACSigner signs payloads with base64(HMAC-SHA256(secret, payload)).
type HMACSigner struct{}

// Sign implements Signer.
func (HMACSigner) Sign(payload []byte, secret string) map[string]string {
	return map[string]string{HeaderHMAC: Signature(payload, secret)}
}

// Signature returns the base64 HMAC-SHA256 of payload.
func Signature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches payload, in constant time.
func Verify(payload []byte, secret, signature string) bool {
	want, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), want)
}
