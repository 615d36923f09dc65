package gatewayconfig

import (
	"crypto/rand"
	"fmt"
	"io"
)

// TokenLength is the size of generated gateway tokens.
const TokenLength = 32

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateToken returns TokenLength random alphanumeric characters read from
// src, or from crypto/rand when src is nil.
func GenerateToken(src io.Reader) (string, error) {
	if src == nil {
		src = rand.Reader
	}
	out := make([]byte, 0, TokenLength)
	buf := make([]byte, TokenLength*2)
	// Bytes at or above limit are dropped to avoid modulo bias.
	limit := byte(256 - 256%len(tokenAlphabet))
	for len(out) < TokenLength {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == TokenLength {
				break
			}
		}
	}
	return string(out), nil
}

// IsToken reports whether s looks like a generated token.
func IsToken(s string) bool {
	if len(s) != TokenLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
