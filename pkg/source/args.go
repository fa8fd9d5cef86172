package source

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Args is a device argument dictionary such as
// "airspy=0,linearity,bias=1,label='AirSpy AIRSPY'". Bare keys map to "".
type Args map[string]string

// ParseArgs splits s on commas outside of quotes, then each entry on its first
// '='. Surrounding whitespace and quotes are stripped from keys and values.
func ParseArgs(s string) Args {
	ret := make(Args)
	for _, tok := range splitArgs(s) {
		key, value, _ := strings.Cut(tok, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		ret[key] = unquote(strings.TrimSpace(value))
	}
	return ret
}

func splitArgs(s string) []string {
	var ret []string
	var quote rune
	start := 0
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ',':
			ret = append(ret, s[start:i])
			start = i + 1
		}
	}
	return append(ret, s[start:])
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '\'' || v[0] == '"') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Bool parses key as a boolean. A bare key counts as true.
func (a Args) Bool(key string) (bool, error) {
	v, ok := a[key]
	if !ok {
		return false, nil
	}
	if v == "" {
		return true, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("argument %s=%q: %w", key, v, err)
	}
	return b, nil
}

// Uint parses key as an unsigned integer, accepting a 0x prefix.
func (a Args) Uint(key string) (uint64, error) {
	v, ok := a[key]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %s=%q: %w", key, v, err)
	}
	return n, nil
}

func (a Args) String() string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := a[k]
		switch {
		case v == "":
			parts = append(parts, k)
		case strings.ContainsAny(v, ", "):
			parts = append(parts, fmt.Sprintf("%s='%s'", k, v))
		default:
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, ",")
}
