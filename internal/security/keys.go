package security

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrEmptySecret is returned when a signing secret resolves to nothing.
var ErrEmptySecret = errors.New("empty signing secret")

const secretFilePrefix = "file:"

// LoadSecret resolves a signing secret. s is either the secret itself or "file:<path>",
// in which case the file content is used with surrounding whitespace trimmed.
func LoadSecret(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if path, ok := strings.CutPrefix(s, secretFilePrefix); ok {
		b, err := os.ReadFile(strings.TrimSpace(path))
		if err != nil {
			return nil, fmt.Errorf("read secret file: %w", err)
		}
		s = strings.TrimSpace(string(b))
	}
	if s == "" {
		return nil, ErrEmptySecret
	}
	return []byte(s), nil
}
