package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// GenerateCode returns n random bytes as upper-case hex.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// GenerateOTP returns a numeric code of the given length, used for SMS
// opt-in confirmation.
func GenerateOTP(length int) (string, error) {
	const charset = "0123456789"

	code := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(code) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			// 250 is the largest multiple of 10 below 256; skip the rest to
			// keep digits uniform.
			if b >= 250 {
				continue
			}
			code = append(code, charset[int(b)%len(charset)])
			if len(code) == length {
				break
			}
		}
	}
	return string(code), nil
}
