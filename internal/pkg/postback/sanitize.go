package postback

import (
	"regexp"
	"strings"

	"github.com/seranking/paygate/internal/pkg/apperr"
)

var (
	unsafeClickIDRe = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)
	safeStatusRe    = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)
	safeParamKeyRe  = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,64}$`)
)

// reservedParamKeys are set by the relay itself and stripped from
// caller-supplied tracking params.
var reservedParamKeys = map[string]struct{}{
	"cnv_id":     {},
	"payout":     {},
	"cnv_status": {},
}

const maxParamValueLen = 512

// SanitizeClickID strips every character outside [A-Za-z0-9_.-].
func SanitizeClickID(raw string) string {
	return unsafeClickIDRe.ReplaceAllString(strings.TrimSpace(raw), "")
}

// NormalizeStatus validates a funnel status. Malformed strings and statuses
// outside the allow-list are rejected with distinct reasons.
func NormalizeStatus(raw string) (string, error) {
	status := strings.ToLower(strings.TrimSpace(raw))
	if status == "" || !safeStatusRe.MatchString(status) {
		return "", apperr.Validation("Invalid status")
	}
	if _, ok := knownStatuses[status]; !ok {
		return "", apperr.Validation("Unknown status")
	}
	return status, nil
}

// SanitizeTrackingParams keeps only well-formed, non-reserved keys and bounds
// value lengths.
func SanitizeTrackingParams(raw map[string]string) map[string]string {
	if len(raw) == 0 {
		return map[string]string{}
	}
	sanitized := make(map[string]string, len(raw))
	for rawKey, rawValue := range raw {
		key := strings.TrimSpace(rawKey)
		if key == "" || !safeParamKeyRe.MatchString(key) {
			continue
		}
		if _, reserved := reservedParamKeys[key]; reserved {
			continue
		}
		value := strings.TrimSpace(rawValue)
		if value == "" {
			continue
		}
		if len(value) > maxParamValueLen {
			value = value[:maxParamValueLen]
		}
		sanitized[key] = value
	}
	return sanitized
}
