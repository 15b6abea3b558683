package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Log line layout shared with the log file writer.
const (
	// SessionMarkerPrefix starts the line written whenever a log file is opened.
	SessionMarkerPrefix = "// File opened at "
	// TimestampSeparator separates an encoded record from its write timestamp.
	TimestampSeparator = " // "
	// TimeLayout is the timestamp layout used on every log line (local time).
	TimeLayout = time.RFC3339Nano
)

// ErrSyntax is returned when text is not a canonical record or log line.
var ErrSyntax = errors.New("record: syntax error")

// Line is one parsed log file line: either a session marker or a timestamped record.
type Line struct {
	Time   time.Time
	Marker bool
	Record Record
}

// ParseLine parses a full log file line (without the trailing newline).
func ParseLine(line string) (Line, error) {
	line = strings.TrimRight(line, "\r\n")
	if ts, ok := strings.CutPrefix(line, SessionMarkerPrefix); ok {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return Line{}, fmt.Errorf("%w: session marker: %w", ErrSyntax, err)
		}
		return Line{Time: t, Marker: true}, nil
	}
	i := strings.LastIndex(line, TimestampSeparator)
	if i < 0 {
		return Line{}, fmt.Errorf("%w: missing timestamp", ErrSyntax)
	}
	t, err := time.Parse(time.RFC3339, line[i+len(TimestampSeparator):])
	if err != nil {
		return Line{}, fmt.Errorf("%w: timestamp: %w", ErrSyntax, err)
	}
	rec, err := Parse(line[:i])
	if err != nil {
		return Line{}, err
	}
	return Line{Time: t, Record: rec}, nil
}

// Parse decodes the canonical text of a single record.
func Parse(s string) (Record, error) {
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	name := s[:open]
	fields, err := parseFields(s[open+1 : len(s)-1])
	if err != nil {
		return nil, err
	}

	tags, err := fields.tags()
	if err != nil {
		return nil, err
	}
	var rec Record
	switch name {
	case CommandPrivMsg:
		sender, err := fields.str("sender", true)
		if err != nil {
			return nil, err
		}
		msg, err := fields.str("message", true)
		if err != nil {
			return nil, err
		}
		rec = PrivateMessage{Sender: sender, Message: msg, Tags: tags}
	case CommandClearChat:
		user, err := fields.str("user", false)
		if err != nil {
			return nil, err
		}
		rec = ClearChat{User: user, Tags: tags}
	case CommandClearMsg:
		id, err := fields.str("message", true)
		if err != nil {
			return nil, err
		}
		rec = ClearMessage{MessageID: id, Tags: tags}
	default:
		rec = Notice{Name: name, Tags: tags}
	}
	if err := fields.done(); err != nil {
		return nil, err
	}
	return rec, nil
}

type fieldSet map[string]json.RawMessage

func (f fieldSet) str(key string, required bool) (string, error) {
	raw, ok := f[key]
	if !ok {
		if required {
			return "", fmt.Errorf("%w: missing field %q", ErrSyntax, key)
		}
		return "", nil
	}
	delete(f, key)
	s, err := unquote(string(raw))
	if err != nil {
		return "", fmt.Errorf("field %q: %w", key, err)
	}
	return s, nil
}

func (f fieldSet) tags() (Tags, error) {
	raw, ok := f["tags"]
	if !ok {
		return nil, fmt.Errorf("%w: missing field \"tags\"", ErrSyntax)
	}
	delete(f, "tags")
	return ParseTags(string(raw))
}

func (f fieldSet) done() error {
	for k := range f {
		return fmt.Errorf("%w: unexpected field %q", ErrSyntax, k)
	}
	return nil
}

// parseFields splits key:value pairs where each value is a JSON value.
func parseFields(body string) (fieldSet, error) {
	fields := fieldSet{}
	for body != "" {
		colon := strings.IndexByte(body, ':')
		if colon <= 0 {
			return nil, fmt.Errorf("%w: expected key at %q", ErrSyntax, body)
		}
		key := body[:colon]
		rest := body[colon+1:]

		dec := json.NewDecoder(strings.NewReader(rest))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", ErrSyntax, key, err)
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrSyntax, key)
		}
		fields[key] = raw

		rest = rest[dec.InputOffset():]
		if rest == "" {
			break
		}
		if rest[0] != ',' {
			return nil, fmt.Errorf("%w: expected ',' at %q", ErrSyntax, rest)
		}
		body = rest[1:]
	}
	return fields, nil
}
