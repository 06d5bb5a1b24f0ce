package scratchcard

import (
	"crypto/rand"
	"math/big"
	"strings"
	"unicode"
)

// PINs are printed as NNNN-NNNN-NNNN
const (
	pinGroups   = 3
	pinGroupLen = 4
	pinDigits   = pinGroups * pinGroupLen
	pinLen      = pinDigits + pinGroups - 1
)

var tenPow4 = big.NewInt(10000)

// GeneratePin returns a random PIN using crypto/rand.
func GeneratePin() (string, error) {
	var sb strings.Builder
	sb.Grow(pinLen)
	for i := 0; i < pinGroups; i++ {
		n, err := rand.Int(rand.Reader, tenPow4)
		if err != nil {
			return "", err
		}
		if i > 0 {
			sb.WriteByte('-')
		}
		grp := n.String()
		sb.WriteString(strings.Repeat("0", pinGroupLen-len(grp)))
		sb.WriteString(grp)
	}
	return sb.String(), nil
}

// NormalizePin formats operator input as NNNN-NNNN-NNNN.
// Whitespace and dashes are ignored; anything else than exactly 12 digits is rejected.
func NormalizePin(s string) (string, bool) {
	digits := make([]rune, 0, pinDigits)
	for _, r := range s {
		switch {
		case r == '-' || unicode.IsSpace(r):
			continue
		case r >= '0' && r <= '9':
			digits = append(digits, r)
		default:
			return "", false
		}
	}
	if len(digits) != pinDigits {
		return "", false
	}

	var sb strings.Builder
	sb.Grow(pinLen)
	for i, d := range digits {
		if i > 0 && i%pinGroupLen == 0 {
			sb.WriteByte('-')
		}
		sb.WriteRune(d)
	}
	return sb.String(), true
}
