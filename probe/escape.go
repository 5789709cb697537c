package probe

import (
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

const hexDigits = "0123456789ABCDEF"

// isUnescaped reports whether escape() leaves b as is.
func isUnescaped(b rune) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	}
	return strings.ContainsRune("@*_+-./", b)
}

// Escape encodes s the way ECMAScript's global escape() does: code units
// below 256 become %XX, the rest %uXXXX.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, unit := range utf16.Encode([]rune(s)) {
		r := rune(unit)
		switch {
		case isUnescaped(r):
			b.WriteRune(r)
		case r < 256:
			b.WriteByte('%')
			b.WriteByte(hexDigits[r>>4])
			b.WriteByte(hexDigits[r&0xF])
		default:
			b.WriteString("%u")
			b.WriteByte(hexDigits[(r>>12)&0xF])
			b.WriteByte(hexDigits[(r>>8)&0xF])
			b.WriteByte(hexDigits[(r>>4)&0xF])
			b.WriteByte(hexDigits[r&0xF])
		}
	}
	return b.String()
}

// Unescape reverses Escape. Malformed sequences are kept literally, as
// unescape() does.
func Unescape(s string) string {
	if !strings.ContainsRune(s, '%') {
		return s
	}
	units := make([]uint16, 0, len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if c == '%' {
			if i+6 <= len(s) && s[i+1] == 'u' {
				if v, err := strconv.ParseUint(s[i+2:i+6], 16, 16); err == nil {
					units = append(units, uint16(v))
					i += 6
					continue
				}
			}
			if i+3 <= len(s) {
				if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
					units = append(units, uint16(v))
					i += 3
					continue
				}
			}
		}
		// Non-ASCII input is passed through as its UTF-16 code units.
		r, size := utf8.DecodeRuneInString(s[i:])
		units = append(units, utf16.Encode([]rune{r})...)
		i += size
	}
	return string(utf16.Decode(units))
}
