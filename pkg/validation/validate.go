package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxBodyBytes caps comment and record bodies. The remote store rejects
// larger documents anyway; failing locally is cheaper.
const MaxBodyBytes = 64 * 1024

const maxKeyLen = 128

var ErrEmptyBody = errors.New("body is empty")

// ValidateBody checks a comment or record body before it is sent to the
// remote store.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}
	if len(body) > MaxBodyBytes {
		return fmt.Errorf("body too large: %d > %d bytes", len(body), MaxBodyBytes)
	}
	if !utf8.ValidString(body) {
		return errors.New("body is not valid utf-8")
	}
	return nil
}

// ValidateKey checks a record key, section or page identifier. Keys flow
// into remote labels and cache keys, so the charset stays conservative.
func ValidateKey(key string) error {
	if key == "" {
		return errors.New("key is empty")
	}
	if len(key) > maxKeyLen {
		return fmt.Errorf("key too long: %d > %d", len(key), maxKeyLen)
	}
	for _, c := range key {
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			continue
		}
		switch c {
		case '-', '_', '.':
			continue
		}
		return fmt.Errorf("key %q contains invalid character %q", key, c)
	}
	return nil
}
