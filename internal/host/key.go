package host

import (
	"crypto/rand"
	"fmt"
)

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// AccessKeyLen is the length of generated access keys.
const AccessKeyLen = 8

// GenerateAccessKey returns a random alphanumeric access key for hosts
// started without a configured key.
func GenerateAccessKey() (string, error) {
	buf := make([]byte, AccessKeyLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate access key: %w", err)
	}
	for i, b := range buf {
		buf[i] = keyAlphabet[int(b)%len(keyAlphabet)]
	}
	return string(buf), nil
}
