package internal

import "testing"

func TestFastHashFormat(t *testing.T) {
	for _, input := range []string{
		"",
		"short",
		"image/07.png",
		"puzzle/3.png",
		"a much longer asset path that should still hash down to at most sixteen hex characters",
	} {
		hash := FastHashString(input)

		if len(hash) == 0 {
			t.Errorf("empty hash for input %q", input)
		}

		// xxhash is 64-bit so max 16 hex chars
		if len(hash) > 16 {
			t.Errorf("hash too long for input %q: %s (length %d)", input, hash, len(hash))
		}

		for _, char := range hash {
			if !((char >= '0' && char <= '9') || (char >= 'a' && char <= 'f')) {
				t.Errorf("non-hex character %c in hash %s for input %q", char, hash, input)
			}
		}
	}
}

func TestFastHashAgreement(t *testing.T) {
	for _, input := range []string{"", "image/01.png", "session-0123456789abcdef"} {
		if got, want := FastHash([]byte(input)), FastHashString(input); got != want {
			t.Errorf("FastHash(%q) = %s, FastHashString = %s", input, got, want)
		}
	}
}
