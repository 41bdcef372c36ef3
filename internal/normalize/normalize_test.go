package normalize

import (
	"testing"
	"time"
)

func mustTimestamp(t *testing.T, row Row) time.Time {
	t.Helper()
	raw, ok := row["timestamp"].(string)
	if !ok {
		t.Fatalf("missing timestamp: %#v", row)
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t.Fatalf("timestamp not RFC3339: %v", err)
	}
	return ts
}

func TestNormalizeJSONObjectKeepsFields(t *testing.T) {
	row := Normalize(map[string]any{"temp": 21.5, "unit": "C", "ok": "true"})
	if row["temp"] != 21.5 {
		t.Fatalf("unexpected temp: %#v", row["temp"])
	}
	if row["unit"] != "C" {
		t.Fatalf("unexpected unit: %#v", row["unit"])
	}
	if row["ok"] != true {
		t.Fatalf("expected coerced bool, got %#v", row["ok"])
	}
	if row["value"] != 21.5 {
		t.Fatalf("expected temp picked as value, got %#v", row["value"])
	}
	mustTimestamp(t, row)
}

func TestNormalizeKeyValueText(t *testing.T) {
	row := Normalize("batt:81")
	if row["batt"] != 81.0 {
		t.Fatalf("unexpected batt: %#v", row["batt"])
	}
	if row["value"] != 81.0 {
		t.Fatalf("unexpected value: %#v", row["value"])
	}
	if row["source"] != "serial" {
		t.Fatalf("unexpected source: %#v", row["source"])
	}
	if row["status"] != "ok" {
		t.Fatalf("unexpected status: %#v", row["status"])
	}
	mustTimestamp(t, row)
}

func TestNormalizeBareNumber(t *testing.T) {
	row := Normalize("23.5")
	if row["value"] != 23.5 {
		t.Fatalf("unexpected value: %#v", row["value"])
	}
}

func TestNormalizePositionalCSV(t *testing.T) {
	row := Normalize("10,20,30")
	if row["value1"] != 10.0 || row["value2"] != 20.0 || row["value3"] != 30.0 {
		t.Fatalf("unexpected positional fields: %#v", row)
	}
	if row["value"] != 10.0 {
		t.Fatalf("expected first numeric field as value, got %#v", row["value"])
	}
}

func TestNormalizeRepairsBareKeys(t *testing.T) {
	row := Normalize(`{temp: 19.2, humidity: 40,}`)
	if row["temp"] != 19.2 {
		t.Fatalf("unexpected temp: %#v", row["temp"])
	}
	if row["humidity"] != 40.0 {
		t.Fatalf("unexpected humidity: %#v", row["humidity"])
	}
}

func TestNormalizeRepairsMissingBraces(t *testing.T) {
	row := Normalize(`"level": 3`)
	if row["level"] != 3.0 {
		t.Fatalf("unexpected level: %#v", row["level"])
	}
	if row["value"] != 3.0 {
		t.Fatalf("unexpected value: %#v", row["value"])
	}
}

func TestNormalizeMultiPairText(t *testing.T) {
	row := Normalize("temp=21;hum=44;mode=eco")
	if row["temp"] != 21.0 || row["hum"] != 44.0 {
		t.Fatalf("unexpected pairs: %#v", row)
	}
	if row["mode"] != "eco" {
		t.Fatalf("unexpected mode: %#v", row["mode"])
	}
	if row["value"] != 21.0 {
		t.Fatalf("expected temp via priority list, got %#v", row["value"])
	}
}

func TestNormalizeOpaqueText(t *testing.T) {
	row := Normalize("hello world")
	if row["raw"] != "hello world" {
		t.Fatalf("unexpected raw: %#v", row["raw"])
	}
	if row["value"] != 0.0 {
		t.Fatalf("expected zero value, got %#v", row["value"])
	}
}

func TestResolveTimestampEpochSeconds(t *testing.T) {
	row := Normalize(map[string]any{"ts": 1700000000.0, "value": 1.0})
	ts := mustTimestamp(t, row)
	if ts.Year() != 2023 {
		t.Fatalf("unexpected year for epoch seconds: %d", ts.Year())
	}
}

func TestResolveTimestampEpochMillis(t *testing.T) {
	row := Normalize(map[string]any{"timestamp": 1700000000000.0, "value": 1.0})
	ts := mustTimestamp(t, row)
	if ts.Year() != 2023 {
		t.Fatalf("unexpected year for epoch millis: %d", ts.Year())
	}
}

func TestResolveTimestampDateString(t *testing.T) {
	row := Normalize(map[string]any{"time": "2024-03-01 10:30:00", "value": 1.0})
	ts := mustTimestamp(t, row)
	if ts.Year() != 2024 || ts.Month() != time.March {
		t.Fatalf("unexpected parsed time: %v", ts)
	}
}

func TestNormalizeFromTagsSource(t *testing.T) {
	row := From("mqtt", `{"temp": 3}`)
	if row["source"] != "mqtt" {
		t.Fatalf("unexpected source: %#v", row["source"])
	}
	explicit := From("mqtt", map[string]any{"source": "gateway-1", "value": 2.0})
	if explicit["source"] != "gateway-1" {
		t.Fatalf("payload source should win: %#v", explicit["source"])
	}
}

func TestNormalizeBooleanValueMapsToZeroOne(t *testing.T) {
	on := Normalize(true)
	if on["value"] != 1.0 {
		t.Fatalf("expected 1 for true, got %#v", on["value"])
	}
	off := Normalize(map[string]any{"value": false})
	if off["value"] != 0.0 {
		t.Fatalf("expected 0 for false, got %#v", off["value"])
	}
}

func TestNormalizePreservesNonNumericValueField(t *testing.T) {
	row := Normalize(map[string]any{"value": "on", "temp": 19.0})
	if row["value_raw"] != "on" {
		t.Fatalf("original reading lost: %#v", row["value_raw"])
	}
	if row["value"] != 19.0 {
		t.Fatalf("expected temp as numeric value, got %#v", row["value"])
	}
}

func TestNormalizeNeverPanicsOnGarbage(t *testing.T) {
	inputs := []any{nil, "", "{{{{", "}\x00{", []byte{0xff, 0xfe}, 42, true, []byte("[1,2,3]")}
	for _, input := range inputs {
		row := Normalize(input)
		if _, ok := row["timestamp"]; !ok {
			t.Fatalf("missing timestamp for %#v", input)
		}
		if _, ok := row["value"]; !ok {
			t.Fatalf("missing value for %#v", input)
		}
	}
}
