package shortener

import (
	"crypto/rand"
	"fmt"
)

const (
	// Base62 is used for secrets where case is preserved.
	Base62 = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// CodeAlphabet drops 0/O and 1/I so codes survive being read aloud.
	// Codes are compared case-insensitively, so it is upper case only.
	CodeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

	ReferralCodeLength = 10
)

// GenerateSecureSlug creates a cryptographically secure random Base62 slug.
func GenerateSecureSlug(length int) (string, error) {
	return generate(length, Base62)
}

// GenerateReferralCode returns a shareable upper-case code.
func GenerateReferralCode() (string, error) {
	return generate(ReferralCodeLength, CodeAlphabet)
}

func generate(length int, alphabet string) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid slug length: %d", length)
	}
	if len(alphabet) < 2 || len(alphabet) > 256 {
		return "", fmt.Errorf("invalid alphabet size: %d", len(alphabet))
	}

	// Rejection sampling to avoid modulo bias: only bytes below the largest
	// multiple of the alphabet size are used.
	maxRandomByte := 256 - 256%len(alphabet)

	slug := make([]byte, length)
	buf := make([]byte, length*2)
	written := 0

	for written < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read secure random bytes: %w", err)
		}

		for _, b := range buf {
			if int(b) >= maxRandomByte {
				continue
			}
			slug[written] = alphabet[int(b)%len(alphabet)]
			written++
			if written == length {
				break
			}
		}
	}

	return string(slug), nil
}
