package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// Activation tokens ride in a Telegram /start deep-link payload, which is
// limited to ~64 chars from the alphabet [A-Za-z0-9_-]. The current format is
// <uuid-without-dashes>_<first-24-hex of HMAC-SHA256(secret, compact-id)>.
const (
	compactIDLen  = 32
	compactSigLen = 24
)

// MakeAccessToken builds the compact signed token string for a token ID.
func MakeAccessToken(tokenID, secret string) string {
	compact := strings.ReplaceAll(tokenID, "-", "")
	return compact + "_" + compactSignature(compact, secret)
}

// ParseAccessToken verifies a token string and returns the canonical dashed
// token ID, or "" when the token is invalid. Besides the current "_" compact
// format it still accepts two deprecated formats kept for migration
// continuity: the early "."-separated compact form and the legacy urlsafe
// base64 encoding of "id.full-hex-signature". All comparisons are
// constant-time.
func ParseAccessToken(token, secret string) string {
	if id := parseCompact(token, "_", secret); id != "" {
		return id
	}
	if id := parseCompact(token, ".", secret); id != "" {
		return id
	}
	return parseLegacyBase64(token, secret)
}

func compactSignature(compactID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(compactID))
	return hex.EncodeToString(mac.Sum(nil))[:compactSigLen]
}

func parseCompact(token, sep, secret string) string {
	idx := strings.Index(token, sep)
	if idx < 0 {
		return ""
	}
	compact, sig := token[:idx], token[idx+1:]
	if len(compact) != compactIDLen || len(sig) != compactSigLen {
		return ""
	}
	expected := compactSignature(compact, secret)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return ""
	}
	return expandCompactID(compact)
}

func parseLegacyBase64(token, secret string) string {
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return ""
	}
	idx := strings.Index(string(decoded), ".")
	if idx < 0 {
		return ""
	}
	tokenID, sig := string(decoded[:idx]), string(decoded[idx+1:])
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(tokenID))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return ""
	}
	return tokenID
}

func expandCompactID(compact string) string {
	return compact[0:8] + "-" + compact[8:12] + "-" + compact[12:16] + "-" +
		compact[16:20] + "-" + compact[20:32]
}

// PreviewToken redacts a token for logging. Full token strings must never be
// logged.
func PreviewToken(token string) string {
	if len(token) <= 16 {
		return token
	}
	return token[:8] + "..." + token[len(token)-6:]
}
