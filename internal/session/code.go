package session

import (
	"crypto/rand"
	"strings"
)

// codeAlphabet omits glyphs that read ambiguously when a code is spoken or
// typed from a screen: 0/O and 1/I are excluded.
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// CodeLength is the fixed length of a session code.
const CodeLength = 6

// generateCode returns a random session code. Uniqueness against live
// sessions is the caller's responsibility.
func generateCode() string {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; if it does the
		// process cannot mint codes at all.
		panic("session: crypto/rand unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}

// Normalize upper-cases and trims an operator-entered code so lookups are
// case-insensitive at every surface that accepts typed input.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
