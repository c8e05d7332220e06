package tablestore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// The filter grammar is the OData-ish subset the callers actually issue:
//
//	PartitionKey eq 'v' [and RowKey {ge|lt|eq} 'v'] [and <Prop> eq 'v']...
//
// Values are single-quoted with embedded quotes doubled.

var ErrBadFilter = errors.New("malformed filter")

type comparison struct {
	field string
	op    string
	value string
}

// Filter is a parsed query filter. The zero value matches every entity.
type Filter struct {
	clauses []comparison
}

// PartitionEq returns the value of the first "PartitionKey eq" clause, if any.
func (f Filter) PartitionEq() (string, bool) {
	for _, c := range f.clauses {
		if c.field == "PartitionKey" && c.op == "eq" {
			return c.value, true
		}
	}
	return "", false
}

// Matches reports whether the entity satisfies every clause.
func (f Filter) Matches(e Entity) bool {
	for _, c := range f.clauses {
		var actual string
		switch c.field {
		case "PartitionKey":
			actual = e.PartitionKey
		case "RowKey":
			actual = e.RowKey
		default:
			actual = propAsString(e.Props[c.field])
		}
		switch c.op {
		case "eq":
			if actual != c.value {
				return false
			}
		case "ge":
			if actual < c.value {
				return false
			}
		case "lt":
			if actual >= c.value {
				return false
			}
		}
	}
	return true
}

// ParseFilter parses a filter string. An empty string yields a match-all
// filter, mirroring the upstream table API.
func ParseFilter(input string) (Filter, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return Filter{}, nil
	}

	var f Filter
	for {
		var c comparison
		var err error
		c, s, err = parseComparison(s)
		if err != nil {
			return Filter{}, err
		}
		f.clauses = append(f.clauses, c)

		s = strings.TrimSpace(s)
		if s == "" {
			return f, nil
		}
		rest, ok := cutKeyword(s, "and")
		if !ok {
			return Filter{}, fmt.Errorf("%w: expected 'and' near %q", ErrBadFilter, s)
		}
		s = rest
	}
}

func parseComparison(s string) (comparison, string, error) {
	s = strings.TrimSpace(s)
	field, s, ok := scanIdent(s)
	if !ok {
		return comparison{}, "", fmt.Errorf("%w: expected field name near %q", ErrBadFilter, s)
	}
	s = strings.TrimSpace(s)
	op, s, ok := scanIdent(s)
	if !ok || (op != "eq" && op != "ge" && op != "lt") {
		return comparison{}, "", fmt.Errorf("%w: expected eq/ge/lt after %q", ErrBadFilter, field)
	}
	s = strings.TrimSpace(s)
	value, s, err := scanQuoted(s)
	if err != nil {
		return comparison{}, "", err
	}
	return comparison{field: field, op: op, value: value}, s, nil
}

func cutKeyword(s, kw string) (string, bool) {
	if len(s) < len(kw) || !strings.EqualFold(s[:len(kw)], kw) {
		return s, false
	}
	rest := s[len(kw):]
	if rest != "" && !isSpace(rest[0]) {
		return s, false
	}
	return strings.TrimSpace(rest), true
}

func scanIdent(s string) (string, string, bool) {
	i := 0
	for i < len(s) && isIdentByte(s[i]) {
		i++
	}
	if i == 0 {
		return "", s, false
	}
	return s[:i], s[i:], true
}

func scanQuoted(s string) (string, string, error) {
	if s == "" || s[0] != '\'' {
		return "", s, fmt.Errorf("%w: expected quoted value near %q", ErrBadFilter, s)
	}
	var b strings.Builder
	i := 1
	for i < len(s) {
		if s[i] == '\'' {
			if i+1 < len(s) && s[i+1] == '\'' {
				b.WriteByte('\'')
				i += 2
				continue
			}
			return b.String(), s[i+1:], nil
		}
		b.WriteByte(s[i])
		i++
	}
	return "", s, fmt.Errorf("%w: unterminated quoted value", ErrBadFilter)
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}

func propAsString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
