package internal

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// NewNumericCode returns a uniformly random numeric code of exactly digits
// characters, zero-padded. The value space is [0, 10^digits); a draw of 42
// with six digits renders as "000042". crypto/rand is a security property
// here, not a stylistic one: predictable codes defeat the mechanism.
func NewNumericCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid code digit count")
	}

	space := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, space)
	if err != nil {
		return "", err
	}

	code := fmt.Sprintf("%0*d", digits, n)
	if len(code) != digits {
		return "", fmt.Errorf("invalid code generation length")
	}
	return code, nil
}

// IsNumericString reports whether s is non-empty and all ASCII digits.
func IsNumericString(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
