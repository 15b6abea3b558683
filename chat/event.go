package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/onnwee/ghostlog/record"
)

// ErrInvalidLine is returned by ParseLine for lines that are not IRC messages.
var ErrInvalidLine = errors.New("invalid irc line")

// Prefix is the message source. Server-originated messages leave Nick empty.
type Prefix struct {
	Raw  string
	Nick string
	User string
	Host string
}

func (p *Prefix) String() string { return p.Raw }

// Event is one decoded transport message.
type Event struct {
	Command string
	Params  []string
	Tags    []record.Tag
	Prefix  *Prefix
}

// TagMap builds the event's tag map.
func (e Event) TagMap() record.Tags { return record.TagsFromList(e.Tags) }

// ParseLine decodes one IRCv3 line:
//
//	[@tags ][:prefix ]COMMAND[ params][ :trailing]
//
// Tag values are unescaped; a tag without "=" gets an empty value.
func ParseLine(line string) (Event, error) {
	line = strings.TrimRight(line, "\r\n")
	var ev Event

	if strings.HasPrefix(line, "@") {
		raw, rest, ok := strings.Cut(line[1:], " ")
		if !ok {
			return Event{}, fmt.Errorf("%w: tags without command", ErrInvalidLine)
		}
		ev.Tags = parseTags(raw)
		line = strings.TrimLeft(rest, " ")
	}

	if strings.HasPrefix(line, ":") {
		raw, rest, ok := strings.Cut(line[1:], " ")
		if !ok {
			return Event{}, fmt.Errorf("%w: prefix without command", ErrInvalidLine)
		}
		ev.Prefix = parsePrefix(raw)
		line = strings.TrimLeft(rest, " ")
	}

	cmd, rest, _ := strings.Cut(line, " ")
	if cmd == "" {
		return Event{}, fmt.Errorf("%w: missing command", ErrInvalidLine)
	}
	ev.Command = strings.ToUpper(cmd)

	for rest != "" {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			break
		}
		if rest[0] == ':' {
			ev.Params = append(ev.Params, rest[1:])
			break
		}
		var p string
		p, rest, _ = strings.Cut(rest, " ")
		ev.Params = append(ev.Params, p)
	}
	return ev, nil
}

func parseTags(raw string) []record.Tag {
	parts := strings.Split(raw, ";")
	tags := make([]record.Tag, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		tags = append(tags, record.Tag{Key: k, Value: unescapeTagValue(v)})
	}
	return tags
}

func unescapeTagValue(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(v) {
			// trailing backslash is dropped
			break
		}
		switch v[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

// parsePrefix splits nick!user@host. A bare name containing a dot is a server name.
func parsePrefix(raw string) *Prefix {
	p := &Prefix{Raw: raw}
	rest := raw
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		p.Host = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '!'); i >= 0 {
		p.User = rest[i+1:]
		rest = rest[:i]
	}
	if p.User == "" && p.Host == "" && strings.Contains(rest, ".") {
		p.Host = rest
		return p
	}
	p.Nick = rest
	return p
}
