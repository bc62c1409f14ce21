package internal

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// FastHash is a high-performance non-cryptographic hash function used for
// ETag generation on captcha image responses and other cache keys where
// cryptographic security is not required. Session identifiers never use
// this; those come from crypto/rand.
func FastHash(data []byte) string {
	h := xxhash.Sum64(data)
	return strconv.FormatUint(h, 16)
}

// FastHashString is FastHash over a string without copying it into a byte
// slice first.
func FastHashString(text string) string {
	h := xxhash.Sum64String(text)
	return strconv.FormatUint(h, 16)
}
