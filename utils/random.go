package utils

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var noteStrip = regexp.MustCompile(`\s+`)

// BuildTransferNote builds the matching reference embedded in a bank
// transfer so the backend can reconcile the payment. Format:
// "act-<base>ck<6 random chars>" with whitespace stripped from base.
func BuildTransferNote(base string) string {
	if base == "" {
		base = "user"
	}
	base = strings.ToLower(noteStrip.ReplaceAllString(base, ""))
	rnd := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return "act-" + base + "ck" + rnd
}

// GenerateCode returns n random bytes as an upper-case hex string.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}
