package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// HMACAuth holds the credentials for venues that authenticate requests with
// an API key header plus an HMAC-SHA256 signature over the request payload.
type HMACAuth struct {
	Key    string // API key, sent verbatim in a header
	Secret string // shared secret used as the HMAC key
}

// SignHex computes HMAC-SHA256(secret, payload) and returns the signature
// as lowercase hex. Binance-style venues append this to the signed query
// string as the signature parameter.
func (h *HMACAuth) SignHex(payload string) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignBase64 computes HMAC-SHA256(secret, payload) and returns the
// signature as base64 standard encoding.
func (h *HMACAuth) SignBase64(payload string) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Configured reports whether both credential halves are present.
func (h *HMACAuth) Configured() bool {
	return h.Key != "" && h.Secret != ""
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
