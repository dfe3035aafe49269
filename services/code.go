package services

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// CodeLength is the number of digits shown to the requester and expected from the handler.
const CodeLength = 6

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a zero-padded decimal code. Codes are scoped to a single request so no uniqueness check is
// needed.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

func NormalizeCode(code string) string {
	return strings.TrimSpace(code)
}
