package utils

import (
	"crypto/rand"
	"strings"

	"github.com/google/uuid"
)

// CodeAlphabet leaves out 0, O, I and 1 so codes survive being read aloud or retyped.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const CodeBodyLength = 8

// GenerateCouponCode returns "{prefix}-{body}" with an 8 character body.
// The alphabet has 32 symbols, so a random byte modulo 32 is unbiased.
// Uniqueness is enforced by the unique index on coupon_instances.code.
func GenerateCouponCode(prefix string) string {
	var body [CodeBodyLength]byte
	// crypto/rand.Read never returns an error as of Go 1.24
	rand.Read(body[:])

	var b strings.Builder
	b.Grow(len(prefix) + 1 + CodeBodyLength)
	b.WriteString(prefix)
	b.WriteByte('-')
	for _, r := range body {
		b.WriteByte(CodeAlphabet[int(r)%len(CodeAlphabet)])
	}
	return b.String()
}

// GenerateID returns a random UUID v4 string.
func GenerateID() string {
	return uuid.NewString()
}

