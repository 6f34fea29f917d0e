// Package securecode generates the two secrets of the device authorization
// flow: the long opaque device code the agent polls with, and the short
// human-typeable user code confirmed in the browser.
package securecode

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// DeviceCodeBytes is the entropy of a device code. 32 bytes is well above
	// the 128-bit minimum the flow requires.
	DeviceCodeBytes = 32

	// UserCodeLength is the number of alphabet characters in a user code,
	// excluding the separator.
	UserCodeLength = 8

	// UserCodeChunkSize groups user code characters as XXXX-XXXX.
	UserCodeChunkSize = 4

	// UserCodeAlphabet holds the 32 characters a user code is drawn from.
	// Visually ambiguous characters (0/O, 1/I) are excluded. The alphabet size
	// divides 256, so indexing random bytes into it is unbiased.
	UserCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// DeviceCode returns a new device code: random bytes encoded so the value is
// safe in URLs and headers.
func DeviceCode() (string, error) {
	b := make([]byte, DeviceCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate device code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// UserCode returns a new user code in XXXX-XXXX form.
func UserCode() (string, error) {
	b := make([]byte, UserCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate user code: %w", err)
	}

	var result strings.Builder
	for i, c := range b {
		if i > 0 && i%UserCodeChunkSize == 0 {
			result.WriteByte('-')
		}
		result.WriteByte(UserCodeAlphabet[int(c)%len(UserCodeAlphabet)])
	}
	return result.String(), nil
}

// NormalizeUserCode maps user input onto the canonical code form: uppercased,
// separators and whitespace stripped, then re-chunked. Humans type codes with
// or without the dash, in either case.
func NormalizeUserCode(input string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return -1
		}
	}, input)

	if len(cleaned) != UserCodeLength {
		// Not a well-formed code; return as-is and let the lookup miss.
		return cleaned
	}
	return cleaned[:UserCodeChunkSize] + "-" + cleaned[UserCodeChunkSize:]
}
