// ABOUTME: HTTP credential extraction for the gateway
// ABOUTME: Pulls bearer tokens and pairing codes out of request headers and bodies

package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// PairingCodeHeader carries the pairing code on POST /pair.
const PairingCodeHeader = "X-Pairing-Code"

// ExtractBearer extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func ExtractBearer(h http.Header) (string, string) {
	authHeader := h.Get("Authorization")
	if authHeader == "" {
		return "", "missing authorization header"
	}
	const prefix = "bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(authHeader[len(prefix):])
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// PairingCodeFrom returns the pairing code from the X-Pairing-Code header,
// or from a JSON body of the form {"code":"123456"} when the header is absent.
func PairingCodeFrom(h http.Header, body []byte) string {
	if code := strings.TrimSpace(h.Get(PairingCodeHeader)); code != "" {
		return code
	}
	if len(body) == 0 {
		return ""
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return ""
	}
	return strings.TrimSpace(req.Code)
}

// Redact returns a log-safe form of a token showing only its first four characters.
func Redact(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
