package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// quote renders s as a JSON string without HTML escaping. Bytes that are not valid UTF-8 are
// written as lone low-surrogate escapes \udc80-\udcff, which unquote maps back to the byte.
// Valid UTF-8 never encodes a surrogate, so the mapping is reversible.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for s != "" {
		n := validPrefix(s)
		if n == 0 {
			fmt.Fprintf(&b, `\udc%02x`, s[0])
			s = s[1:]
			continue
		}
		b.WriteString(jsonBody(s[:n]))
		s = s[n:]
	}
	b.WriteByte('"')
	return b.String()
}

// validPrefix returns the length of the longest valid UTF-8 prefix of s.
func validPrefix(s string) int {
	n := 0
	for n < len(s) {
		r, size := utf8.DecodeRuneInString(s[n:])
		if r == utf8.RuneError && size == 1 {
			break
		}
		n += size
	}
	return n
}

// jsonBody is the JSON string encoding of valid UTF-8 s without the surrounding quotes.
func jsonBody(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail.
	_ = enc.Encode(s)
	out := strings.TrimSuffix(buf.String(), "\n")
	return out[1 : len(out)-1]
}

// unquote decodes a JSON string literal written by quote.
func unquote(lit string) (string, error) {
	if len(lit) < 2 || lit[0] != '"' || lit[len(lit)-1] != '"' {
		return "", fmt.Errorf("%w: not a string: %s", ErrSyntax, lit)
	}
	body := lit[1 : len(lit)-1]

	var out strings.Builder
	start := 0
	flush := func(end int) error {
		if end == start {
			return nil
		}
		var s string
		if err := json.Unmarshal([]byte(`"`+body[start:end]+`"`), &s); err != nil {
			return fmt.Errorf("%w: %w", ErrSyntax, err)
		}
		out.WriteString(s)
		return nil
	}

	// high is set while the previous escape was a high surrogate, so a following low
	// surrogate belongs to a pair.
	high := false
	for i := 0; i < len(body); {
		if body[i] != '\\' || i+1 >= len(body) {
			high = false
			i++
			continue
		}
		if body[i+1] != 'u' || i+6 > len(body) {
			high = false
			i += 2
			continue
		}
		r, err := strconv.ParseUint(body[i+2:i+6], 16, 16)
		switch {
		case err != nil:
			high = false
		case r >= 0xd800 && r < 0xdc00:
			high = true
		case r >= 0xdc80 && r <= 0xdcff && !high:
			if err := flush(i); err != nil {
				return "", err
			}
			out.WriteByte(byte(r - 0xdc00))
			start = i + 6
		default:
			high = false
		}
		i += 6
	}
	if err := flush(len(body)); err != nil {
		return "", err
	}
	return out.String(), nil
}

// readString splits the JSON string literal at the start of s from the rest.
func readString(s string) (string, string, error) {
	if s == "" || s[0] != '"' {
		return "", s, fmt.Errorf("%w: expected string at %q", ErrSyntax, s)
	}
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			v, err := unquote(s[:i+1])
			return v, s[i+1:], err
		}
	}
	return "", s, fmt.Errorf("%w: unterminated string", ErrSyntax)
}

func skipSpace(s string) string {
	return strings.TrimLeft(s, " \t\r\n")
}
