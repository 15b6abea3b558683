package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Tag is a single protocol tag. Tags sent without a value carry an empty Value.
type Tag struct {
	Key   string
	Value string
}

// Tags maps tag keys to values.
type Tags map[string]string

// TagsFromList builds a tag map from an ordered tag list. A later duplicate key wins.
func TagsFromList(list []Tag) Tags {
	t := make(Tags, len(list))
	for _, tag := range list {
		t[tag.Key] = tag.Value
	}
	return t
}

// Keys returns the tag keys in canonical (sorted) order.
func (t Tags) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether t and o hold the same pairs. Nil and empty maps are equal.
func (t Tags) Equal(o Tags) bool {
	if len(t) != len(o) {
		return false
	}
	for k, v := range t {
		if ov, ok := o[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// String renders the canonical form: a JSON object with keys in sorted order.
func (t Tags) String() string {
	if len(t) == 0 {
		return "{}"
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range t.Keys() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quote(k))
		b.WriteByte(':')
		b.WriteString(quote(t[k]))
	}
	b.WriteByte('}')
	return b.String()
}

// ParseTags parses the canonical tag map form produced by Tags.String. Whitespace between
// tokens is accepted, so the text form of a jsonb column parses too.
func ParseTags(s string) (Tags, error) {
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("%w: tags: invalid JSON %q", ErrSyntax, s)
	}
	rest := skipSpace(s)
	if !strings.HasPrefix(rest, "{") {
		return nil, fmt.Errorf("%w: tags: not an object", ErrSyntax)
	}
	rest = skipSpace(rest[1:])
	t := Tags{}
	if strings.HasPrefix(rest, "}") {
		return t, nil
	}
	for {
		key, after, err := readString(rest)
		if err != nil {
			return nil, fmt.Errorf("tags: key: %w", err)
		}
		// valid JSON: a colon follows every key
		rest = skipSpace(skipSpace(after)[1:])
		val, after, err := readString(rest)
		if err != nil {
			return nil, fmt.Errorf("tags: value of %q: %w", key, err)
		}
		t[key] = val
		rest = skipSpace(after)
		if rest[0] == '}' {
			return t, nil
		}
		rest = skipSpace(rest[1:])
	}
}
