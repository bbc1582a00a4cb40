package redisstream

import (
	"strconv"
	"time"
)

// entry is one stream entry waiting for a handler.
type entry struct {
	id         string
	payload    []byte
	producedAt time.Time
}

// decodeEntry reconstructs an entry from Redis stream values.
// It reports false when the entry carries no payload.
func decodeEntry(id string, vals map[string]any) (entry, bool) {
	e := entry{id: id}

	switch p := vals[fieldPayload].(type) {
	case []byte:
		e.payload = p
	case string:
		e.payload = []byte(p)
	default:
		return e, false
	}

	if pa := vals[fieldProducedAt]; pa != nil {
		if ns, ok := toInt64(pa); ok && ns > 0 {
			e.producedAt = time.Unix(0, ns)
		}
	}
	return e, true
}

// Helper functions for type conversion

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		if n == "" {
			return 0, false
		}
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
		// Fall back to float parsing for scientific notation
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return int64(f), true
		}
	case []byte:
		return toInt64(string(n))
	}
	return 0, false
}
