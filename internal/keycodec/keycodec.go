// Package keycodec encodes document keys that the document store refuses
// (a leading "$" and any ".") into fixed tokens, and decodes them back.
//
// The tokens are the base64 encodings of the replaced characters, which is
// the representation already used by stored submissions:
//
//	"$"  <-> "JA=="  (leading position only)
//	"."  <-> "Lg=="  (anywhere)
//
// Token text that is already part of a key, and the escape character
// itself, are prefixed with Escape so that Decode(Encode(k)) == k for every
// key. Keys without such text encode exactly as above.
package keycodec

import "strings"

const (
	// Sentinel is the document store's operator prefix.
	Sentinel = "$"
	// Separator is the document store's path separator.
	Separator = "."

	// SentinelToken replaces a leading Sentinel.
	SentinelToken = "JA=="
	// SeparatorToken replaces every Separator.
	SeparatorToken = "Lg=="
	// Escape marks literal token text and literal escapes.
	Escape = `\`
)

type substitution struct {
	plain, coded string
	leading      bool
}

// Ordered by match priority. Escaped forms come first when decoding.
var (
	encoding = [...]substitution{
		{plain: Escape, coded: Escape + Escape},
		{plain: SentinelToken, coded: Escape + SentinelToken, leading: true},
		{plain: SeparatorToken, coded: Escape + SeparatorToken},
		{plain: Sentinel, coded: SentinelToken, leading: true},
		{plain: Separator, coded: SeparatorToken},
	}
	decoding = [...]substitution{
		{coded: Escape + Escape, plain: Escape},
		{coded: Escape + SentinelToken, plain: SentinelToken, leading: true},
		{coded: Escape + SeparatorToken, plain: SeparatorToken},
		{coded: SentinelToken, plain: Sentinel, leading: true},
		{coded: SeparatorToken, plain: Separator},
	}
)

// scan rewrites key left to right, replacing the first matching substitution
// at each position.
func scan(key string, subs []substitution, from func(substitution) (string, string)) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); {
		matched := false
		for _, s := range subs {
			if s.leading && i > 0 {
				continue
			}
			src, dst := from(s)
			if strings.HasPrefix(key[i:], src) {
				b.WriteString(dst)
				i += len(src)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(key[i])
			i++
		}
	}
	return b.String()
}

// Encode replaces characters not allowed in document keys with their tokens.
func Encode(key string) string {
	return scan(key, encoding[:], func(s substitution) (string, string) { return s.plain, s.coded })
}

// Decode replaces tokens with the characters they stand for. An escape not
// followed by token text or another escape is kept as is.
func Decode(key string) string {
	return scan(key, decoding[:], func(s substitution) (string, string) { return s.coded, s.plain })
}

// IsEncoded reports whether key carries one of the token signatures or an
// escape.
func IsEncoded(key string) bool {
	return strings.HasPrefix(key, SentinelToken) ||
		strings.Contains(key, SeparatorToken) ||
		strings.Contains(key, Escape)
}
