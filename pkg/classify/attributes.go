package classify

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Attributes is the attribute map of one resource instance.
type Attributes map[string]interface{}

var indexBrackets = regexp.MustCompile(`\[(\d+)\]`)

// Dig returns the value at a dotted path. Array elements are addressed with
// brackets, e.g. "network_interface[0].network_ip".
func (a Attributes) Dig(key string) (interface{}, bool) {
	sections := strings.Split(key, ".")
	section := sections[0]

	var value interface{}
	indexMatches := indexBrackets.FindStringSubmatch(section)
	if len(indexMatches) == 0 {
		v, ok := a[section]
		if !ok {
			return nil, false
		}
		value = v
	} else {
		index, err := strconv.Atoi(indexMatches[1])
		if err != nil {
			return nil, false
		}
		arr, ok := a[indexBrackets.ReplaceAllString(section, "")].([]interface{})
		if !ok || index < 0 || index >= len(arr) {
			return nil, false
		}
		value = arr[index]
	}

	if len(sections) == 1 {
		return value, true
	}

	child, ok := value.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return Attributes(child).Dig(strings.Join(sections[1:], "."))
}

// String returns a non-empty string at the path.
func (a Attributes) String(key string) (string, bool) {
	v, ok := a.Dig(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// FirstString returns the first non-empty string among the paths.
func (a Attributes) FirstString(keys ...string) string {
	for _, k := range keys {
		if s, ok := a.String(k); ok {
			return s
		}
	}
	return ""
}

// Int returns a positive integer at the path. Numeric strings are accepted.
func (a Attributes) Int(key string) (int, bool) {
	v, ok := a.Dig(key)
	if !ok {
		return 0, false
	}

	var n int
	switch t := v.(type) {
	case float64:
		n = int(t)
	case int:
		n = t
	case int64:
		n = int(t)
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, false
		}
		n = int(i)
	case string:
		i, err := strconv.Atoi(t)
		if err != nil {
			return 0, false
		}
		n = i
	default:
		return 0, false
	}
	if n <= 0 {
		return 0, false
	}
	return n, true
}

// Tags returns the string-valued entries of the "tags" map, falling back to
// "labels".
func (a Attributes) Tags() map[string]string {
	for _, key := range []string{"tags", "labels"} {
		raw, ok := a[key].(map[string]interface{})
		if !ok {
			continue
		}
		tags := make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				tags[k] = s
			}
		}
		return tags
	}
	return nil
}

// TagList returns "tags" when it is a list of strings.
func (a Attributes) TagList() []string {
	raw, ok := a["tags"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
