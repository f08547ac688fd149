package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// Sign returns the hex HMAC-SHA256 of payload keyed by secret.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignParams signs the canonical encoding of params, ignoring any signature already present.
func SignParams(secret string, params url.Values) string {
	clean := cloneParams(params)
	clean.Del("signature")
	return Sign(secret, encodeParams(clean))
}
