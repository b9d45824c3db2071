package core

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

const (
	tokenLen      = 8
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// linkPlaceholder matches {{link}} with any whitespace inside the braces.
var linkPlaceholder = regexp.MustCompile(`\{\{\s*link\s*\}\}`)

// NewToken returns an 8 character uppercase alphanumeric token.
func NewToken() (string, error) {
	buf := make([]byte, tokenLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: %w", err)
	}
	// 256 % 36 leaves a slight bias toward the first letters; tokens are
	// opaque so it does not matter.
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf), nil
}

func HasPlaceholder(message string) bool { return linkPlaceholder.MatchString(message) }

// SubstitutePlaceholder replaces every link placeholder with marker.
func SubstitutePlaceholder(message, marker string) string {
	return linkPlaceholder.ReplaceAllLiteralString(message, marker)
}

// BuildLink renders the public link for a token. shortID is empty for bare
// personalization without a campaign.
func BuildLink(baseURL, shortID, token string) string {
	base := strings.TrimRight(baseURL, "/")
	if shortID == "" {
		return base + "/t/" + token
	}
	return base + "/c/" + shortID + "/" + token
}
