package utils

import (
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ToAscii strips a string down to printable ASCII, decomposing accented
// characters first. Used to build object keys that are safe for signing.
func ToAscii(str string) string {
	isOk := func(r rune) bool {
		return r < 32 || r >= 127
	}
	transformer := transform.Chain(norm.NFKD, transform.RemoveFunc(isOk))
	str, _, _ = transform.String(transformer, str)
	return str
}
