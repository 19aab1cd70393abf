package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// GenerateOTP returns a random zero-padded 6-digit restore code.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// HashValue returns the hex SHA-256 of a value. Restore codes are stored only
// as this hash.
func HashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// MaskEmail redacts an email address for log output.
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at < 0 {
		return "***"
	}
	local, domain := email[:at], email[at+1:]
	switch {
	case local == "":
		return "***@" + domain
	case len(local) <= 2:
		return local[:1] + "***@" + domain
	default:
		return local[:2] + "***@" + domain
	}
}
