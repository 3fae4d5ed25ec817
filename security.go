package ldapauth

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeUsername returns the NFC form of username so that canonically
// equivalent inputs resolve to the same filter and bind DN.
func NormalizeUsername(username string) string {
	return norm.NFC.String(username)
}

// maskSensitiveData masks sensitive information for logging.
// It works on runes so multi-byte names stay valid UTF-8.
func maskSensitiveData(data string) string {
	runes := []rune(data)
	if len(runes) <= 4 {
		return "***"
	}

	// Show first 2 and last 2 characters, mask the middle
	visible := 2
	if len(runes) < 6 {
		visible = 1
	}

	prefix := string(runes[:visible])
	suffix := string(runes[len(runes)-visible:])
	masked := strings.Repeat("*", len(runes)-2*visible)

	return prefix + masked + suffix
}
