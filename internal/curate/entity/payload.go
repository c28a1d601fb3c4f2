package entity

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// payload is a decoded raw document. Source extracts are lenient about
// types: numbers sometimes arrive as strings and vice versa, so every
// accessor coerces where it safely can and returns nil where it cannot.
type payload map[string]any

func parsePayload(data []byte) (payload, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "entity: decode payload")
	}
	if p == nil {
		return nil, eris.New("entity: payload is not an object")
	}
	return p, nil
}

// str returns the value as a trimmed string, or "" when absent.
func (p payload) str(key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// strPtr returns the value as a string pointer, or nil when absent or empty.
func (p payload) strPtr(key string) *string {
	s := p.str(key)
	if s == "" {
		return nil
	}
	return &s
}

// int64Ptr coerces the value to int64, or nil when absent or unparseable.
func (p payload) int64Ptr(key string) *int64 {
	switch v := p[key].(type) {
	case float64:
		n := int64(v)
		return &n
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil
		}
		return &n
	default:
		return nil
	}
}

// intPtr coerces the value to int, or nil when absent or unparseable.
func (p payload) intPtr(key string) *int {
	n := p.int64Ptr(key)
	if n == nil {
		return nil
	}
	i := int(*n)
	return &i
}

// floatPtr coerces the value to float64, or nil when absent or unparseable.
func (p payload) floatPtr(key string) *float64 {
	switch v := p[key].(type) {
	case float64:
		return &v
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// boolPtr coerces the value to bool. Accepts JSON booleans plus the
// usual string spellings ("true", "t", "yes", "y", "1").
func (p payload) boolPtr(key string) *bool {
	switch v := p[key].(type) {
	case bool:
		return &v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "t", "yes", "y", "1":
			b := true
			return &b
		case "false", "f", "no", "n", "0":
			b := false
			return &b
		}
		return nil
	case float64:
		b := v != 0
		return &b
	default:
		return nil
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// timePtr parses the value as a timestamp, trying the layouts the source
// systems are known to emit. Returns nil when absent or unparseable.
func (p payload) timePtr(key string) *time.Time {
	s := p.str(key)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// requireStr returns the value as a string or errors when absent.
// Used for natural keys, which a record cannot land without.
func (p payload) requireStr(key string) (string, error) {
	s := p.str(key)
	if s == "" {
		return "", eris.Errorf("entity: missing required field %q", key)
	}
	return s, nil
}
