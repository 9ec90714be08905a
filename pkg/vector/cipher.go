// Package vector decodes the obfuscated SVG pages served by the reader.
//
// The body of a vector page (everything after the first '>') has every
// ASCII digit shifted by a rotating digit stream derived from the
// document's crypto key. Decrypt reverses the shift; Encrypt applies it.
package vector

import (
	"strconv"
	"strings"
	"unicode/utf16"

	errs "znum/pkg/errors"
)

// KeyStream returns the decimal character codes of key concatenated.
// Codes are UTF-16 code units, so "ab" yields "9798".
func KeyStream(key string) string {
	var b strings.Builder
	for _, unit := range utf16.Encode([]rune(key)) {
		b.WriteString(strconv.Itoa(int(unit)))
	}
	return b.String()
}

// Decrypt reverses the digit substitution applied to vector markup
func Decrypt(markup, key string) (string, error) {
	return shift(markup, key, func(c, k int) int { return c - k })
}

// Encrypt applies the digit substitution. Decrypt(Encrypt(s, k), k) == s.
func Encrypt(markup, key string) (string, error) {
	return shift(markup, key, func(c, k int) int { return c + k })
}

func shift(markup, key string, op func(c, k int) int) (string, error) {
	stream := KeyStream(key)
	if stream == "" {
		return "", errs.New(errs.KindDecryptionFailure, "empty crypto key")
	}

	out := []byte(markup)
	started := false
	h := 0

	for i, c := range out {
		if !started {
			started = c == '>'
			continue
		}
		if c < '0' || c > '9' {
			continue
		}

		r := op(int(c-'0'), int(stream[h]-'0'))
		r = ((r % 10) + 10) % 10
		out[i] = byte('0' + r)
		h = (h + 1) % len(stream)
	}

	return string(out), nil
}
