package normalize

import (
	"strconv"
	"time"
)

// str returns the first non-empty string value among the given keys.
func str(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func boolean(raw map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := raw[k].(bool); ok {
			return v
		}
	}
	return false
}

func integer(raw map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			return int(v)
		case int:
			return v
		case int64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}

// timeLayouts are tried in order when parsing string timestamps. RFC3339
// covers the trailing-Z form; the rest tolerate providers that omit the
// timezone or send date-only values.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// timestamp extracts the first parseable timestamp among the given keys.
// Malformed values degrade to the zero time rather than raising.
func timestamp(raw map[string]any, keys ...string) time.Time {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if t := parseTime(v); !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

func parseTime(v any) time.Time {
	switch tv := v.(type) {
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, tv); err == nil {
				return t.UTC()
			}
		}
	case float64:
		return fromUnix(int64(tv))
	case int64:
		return fromUnix(tv)
	case int:
		return fromUnix(int64(tv))
	}
	return time.Time{}
}

// fromUnix interprets large values as milliseconds, small ones as seconds.
func fromUnix(n int64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
