package domain

import (
	"fmt"
	"strings"
)

// NormalizeHash canonicalizes a 0x-prefixed tx hash for use as an
// idempotency key: lower-cased, prefix enforced.
func NormalizeHash(h string) (string, error) {
	h = strings.ToLower(strings.TrimSpace(h))
	if !strings.HasPrefix(h, "0x") {
		h = "0x" + h
	}
	if len(h) != 66 {
		return "", fmt.Errorf("invalid tx hash length: %s", h)
	}
	for _, c := range h[2:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("invalid tx hash char in %s", h)
		}
	}
	return h, nil
}

// NormalizeAddress lower-cases a 0x address. Checksum casing is a display
// concern; stored and compared forms are canonical lower-case.
func NormalizeAddress(a string) (string, error) {
	a = strings.ToLower(strings.TrimSpace(a))
	if !strings.HasPrefix(a, "0x") {
		a = "0x" + a
	}
	if len(a) != 42 {
		return "", fmt.Errorf("invalid address length: %s", a)
	}
	for _, c := range a[2:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("invalid address char in %s", a)
		}
	}
	return a, nil
}
