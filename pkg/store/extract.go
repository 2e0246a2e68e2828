package store

import (
	"encoding/json"
	"sort"
	"time"
)

// Field whitelist applied by essential-field extraction: identifier,
// timestamp, status/tags, plus the first primary text field found.
var essentialFields = []string{
	"id", "uuid", "key",
	"timestamp", "createdAt", "created_at", "updatedAt", "updated_at",
	"status", "tags",
}

var primaryTextFields = []string{
	"prompt", "text", "title", "name", "message", "description", "content",
}

// minimalTextLen bounds the primary text field in the minimal-fallback
// record, tighter than the compaction bound.
const minimalTextLen = 200

// extract reduces a serialized payload to its most recent KeepRecords
// records with whitelisted fields only. Single-record payloads are
// reduced analogously. Decode failures leave the payload unchanged.
func (s *ScopedStore) extract(data []byte) []byte {
	return reduceSerialized(data, s.cfg.KeepRecords, s.cfg.MaxTextLen)
}

// minimal reduces a serialized payload to the single most recent
// record with a tighter text bound.
func (s *ScopedStore) minimal(data []byte) []byte {
	return reduceSerialized(data, 1, minimalTextLen)
}

func reduceSerialized(data []byte, keep, maxText int) []byte {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return data
	}
	out, err := json.Marshal(reduceValue(v, keep, maxText))
	if err != nil {
		return data
	}
	return out
}

// reduceValue keeps the keep most recent records of a collection (or
// reduces a single record in place). Collection shape is preserved: a
// list in, a list out.
func reduceValue(v any, keep, maxText int) any {
	switch t := v.(type) {
	case []any:
		records := mostRecent(t, keep)
		out := make([]any, 0, len(records))
		for _, r := range records {
			out = append(out, reduceRecord(r, maxText))
		}
		return out
	case map[string]any:
		return reduceRecord(t, maxText)
	default:
		return v
	}
}

// reduceRecord keeps only whitelisted fields plus one truncated
// primary text field.
func reduceRecord(v any, maxText int) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}

	out := make(map[string]any)
	for _, k := range essentialFields {
		if val, ok := m[k]; ok {
			out[k] = val
		}
	}
	for _, k := range primaryTextFields {
		if val, ok := m[k]; ok {
			if text, ok := val.(string); ok {
				out[k] = truncateText(text, maxText)
				break
			}
		}
	}
	return out
}

// mostRecent returns up to keep records ordered most recent first.
// Records are ranked by their timestamp field when every record has
// one; otherwise list order is assumed chronological and the tail is
// taken.
func mostRecent(records []any, keep int) []any {
	if keep <= 0 {
		keep = 1
	}

	ranked := make([]struct {
		idx int
		ts  float64
	}, len(records))
	allTimestamped := len(records) > 0
	for i, r := range records {
		ranked[i].idx = i
		ts, ok := recordTimestamp(r)
		if !ok {
			allTimestamped = false
		}
		ranked[i].ts = ts
	}

	if allTimestamped {
		sort.SliceStable(ranked, func(a, b int) bool {
			return ranked[a].ts > ranked[b].ts
		})
		if len(ranked) > keep {
			ranked = ranked[:keep]
		}
		out := make([]any, 0, len(ranked))
		for _, r := range ranked {
			out = append(out, records[r.idx])
		}
		return out
	}

	// No usable timestamps: assume append order, newest last.
	start := len(records) - keep
	if start < 0 {
		start = 0
	}
	tail := records[start:]
	out := make([]any, 0, len(tail))
	for i := len(tail) - 1; i >= 0; i-- {
		out = append(out, tail[i])
	}
	return out
}

// recordTimestamp extracts a sortable timestamp from a record:
// numeric epoch values as-is, RFC 3339 strings parsed to epoch
// seconds.
func recordTimestamp(v any) (float64, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	for _, k := range []string{"timestamp", "createdAt", "created_at", "updatedAt", "updated_at"} {
		val, ok := m[k]
		if !ok {
			continue
		}
		switch t := val.(type) {
		case float64:
			return t, true
		case string:
			if parsed, err := time.Parse(time.RFC3339, t); err == nil {
				return float64(parsed.Unix()), true
			}
		}
	}
	return 0, false
}
