// Package normalize coerces arbitrary inbound payloads into the canonical
// flat row shape used by caches, charts and the realtime feed. Normalization
// is best-effort and total: malformed input degrades to a usable row, it
// never returns an error.
package normalize

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Row is a flat field-to-scalar mapping. Every normalized row carries an
// RFC3339 "timestamp" and a numeric "value" field.
type Row map[string]any

// valuePriority is the fixed lookup order for picking the primary numeric
// field when the payload does not carry an explicit "value".
var valuePriority = []string{"value", "val", "reading", "batt", "battery", "temp", "temperature", "humidity", "pressure", "level"}

// Normalize converts a raw inbound unit into a canonical row. Raw units with
// no source tag of their own are attributed to "serial", the historical
// default for bare line input.
func Normalize(raw any) Row {
	return From("serial", raw)
}

// From normalizes raw and attributes it to the given source when the payload
// does not name one itself.
func From(source string, raw any) Row {
	row := baseRow(raw)
	for key, v := range row {
		row[key] = coerceScalar(v)
	}
	resolveTimestamp(row, time.Now().UTC())
	if _, ok := row["source"]; !ok {
		row["source"] = source
	}
	if _, ok := row["status"]; !ok {
		row["status"] = "ok"
	}
	synthesizeValue(row)
	return row
}

func baseRow(raw any) Row {
	switch t := raw.(type) {
	case nil:
		return Row{}
	case Row:
		return copyRow(t)
	case map[string]any:
		return copyRow(t)
	case []byte:
		return decodeText(string(t))
	case string:
		return decodeText(t)
	case float64:
		return Row{"value": t}
	case float32:
		return Row{"value": float64(t)}
	case int:
		return Row{"value": float64(t)}
	case int64:
		return Row{"value": float64(t)}
	case bool:
		return Row{"value": t}
	default:
		return Row{"raw": t}
	}
}

func copyRow(src map[string]any) Row {
	row := make(Row, len(src))
	for k, v := range src {
		row[k] = v
	}
	return row
}

func decodeText(text string) Row {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Row{}
	}
	if obj, ok := parseJSONObject(trimmed); ok {
		return obj
	}
	if obj, ok := parseJSONObject(repairJSON(trimmed)); ok {
		return obj
	}
	return decodeHeuristic(trimmed)
}

func parseJSONObject(text string) (Row, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, false
	}
	return Row(obj), true
}

var (
	bareKeyPattern       = regexp.MustCompile(`(^|[{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	trailingCommaPattern = regexp.MustCompile(`,\s*}`)
)

// repairJSON applies the fixed repair heuristic for almost-JSON text: quote
// bare keys, wrap in braces when the text looks like a brace-less object,
// strip trailing commas. It is deliberately not a general parser.
func repairJSON(text string) string {
	repaired := bareKeyPattern.ReplaceAllString(text, `$1"$2":`)
	if strings.HasPrefix(repaired, `"`) {
		repaired = "{" + repaired
	}
	if strings.HasPrefix(repaired, "{") && !strings.HasSuffix(repaired, "}") {
		repaired += "}"
	}
	return trailingCommaPattern.ReplaceAllString(repaired, "}")
}

func decodeHeuristic(text string) Row {
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return Row{"value": f}
	}
	if strings.ContainsAny(text, "=:") {
		return decodeKeyValuePairs(text)
	}
	if strings.Contains(text, ",") {
		return decodePositional(text)
	}
	return Row{"raw": text}
}

var tokenSplitPattern = regexp.MustCompile(`[;,\s]+`)

func decodeKeyValuePairs(text string) Row {
	row := Row{}
	for _, token := range tokenSplitPattern.Split(text, -1) {
		if token == "" {
			continue
		}
		sep := strings.IndexAny(token, "=:")
		if sep <= 0 {
			continue
		}
		key := sanitizeKey(token[:sep])
		if key == "" {
			continue
		}
		value := strings.TrimSpace(token[sep+1:])
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			row[key] = f
		} else {
			row[key] = value
		}
	}
	if len(row) == 0 {
		return Row{"raw": text}
	}
	return row
}

func decodePositional(text string) Row {
	row := Row{}
	for i, part := range strings.Split(text, ",") {
		key := "value" + strconv.Itoa(i+1)
		value := strings.TrimSpace(part)
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			row[key] = f
		} else {
			row[key] = value
		}
	}
	return row
}

var keySanitizePattern = regexp.MustCompile(`[^A-Za-z0-9_]`)

func sanitizeKey(key string) string {
	return keySanitizePattern.ReplaceAllString(strings.TrimSpace(key), "")
}

// coerceScalar converts stringified booleans and numbers to native types and
// flattens nested structures to their JSON text.
func coerceScalar(v any) any {
	switch t := v.(type) {
	case string:
		trimmed := strings.TrimSpace(t)
		if strings.EqualFold(trimmed, "true") {
			return true
		}
		if strings.EqualFold(trimmed, "false") {
			return false
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f
		}
		return t
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return t
		}
		return string(data)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// resolveTimestamp replaces row["timestamp"] with an RFC3339 rendering of the
// first usable candidate field, defaulting to ingestion time. Numeric
// candidates above 1e12 are epoch milliseconds, everything else epoch
// seconds (values between 1e9 and 1e12 are seconds scaled to millis).
func resolveTimestamp(row Row, now time.Time) {
	ts := now
	for _, key := range []string{"timestamp", "ts", "time"} {
		v, ok := row[key]
		if !ok {
			continue
		}
		if t, ok := timestampFrom(v); ok {
			ts = t
			break
		}
	}
	row["timestamp"] = ts.UTC().Format(time.RFC3339)
}

func timestampFrom(v any) (time.Time, bool) {
	switch t := v.(type) {
	case float64:
		ms := t
		if t < 1e12 {
			ms = t * 1000
		}
		return time.UnixMilli(int64(ms)), true
	case string:
		return parseTimeString(t)
	default:
		return time.Time{}, false
	}
}

func parseTimeString(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// synthesizeValue guarantees a numeric "value" field: a preferred field name
// first, then the first numeric field in sorted key order, then zero. A
// non-numeric value field is preserved under "value_raw" before being
// replaced; booleans map to 0/1.
func synthesizeValue(row Row) {
	switch v := row["value"].(type) {
	case float64:
		return
	case bool:
		if v {
			row["value"] = float64(1)
		} else {
			row["value"] = float64(0)
		}
		return
	case nil:
	default:
		row["value_raw"] = v
	}
	for _, key := range valuePriority {
		if f, ok := row[key].(float64); ok {
			row["value"] = f
			return
		}
	}
	if key, ok := firstNumericKey(row); ok {
		row["value"] = row[key]
		return
	}
	row["value"] = float64(0)
}

func firstNumericKey(row Row) (string, bool) {
	best := ""
	for key, v := range row {
		if key == "timestamp" || key == "value" {
			continue
		}
		if _, ok := v.(float64); !ok {
			continue
		}
		if best == "" || key < best {
			best = key
		}
	}
	return best, best != ""
}
