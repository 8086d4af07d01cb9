package creem

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mihaimyh/goentitle/pkg/billing"
)

// epochMillisThreshold separates second and millisecond epochs.
// Values below it are seconds.
const epochMillisThreshold = 1e10

// ParsePayload decodes a delivery body into a generic object and checks the
// envelope: the top level must be an object and eventType/type, when present,
// must be strings.
func ParsePayload(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", billing.ErrInvalidWebhookPayload, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON object", billing.ErrInvalidWebhookPayload)
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: payload is not an object", billing.ErrInvalidWebhookPayload)
	}
	for _, key := range []string{"eventType", "type"} {
		if raw, present := obj[key]; present && raw != nil {
			if _, isString := raw.(string); !isString {
				return nil, fmt.Errorf("%w: %s must be a string", billing.ErrInvalidWebhookPayload, key)
			}
		}
	}
	return obj, nil
}

// stringField returns a non-empty string value, or "".
func stringField(obj map[string]any, key string) string {
	if obj == nil {
		return ""
	}
	s, _ := obj[key].(string)
	return s
}

// objectField returns a nested object, or nil.
func objectField(obj map[string]any, key string) map[string]any {
	if obj == nil {
		return nil
	}
	m, _ := obj[key].(map[string]any)
	return m
}

// refField accepts either a bare id string or an embedded object carrying "id".
func refField(obj map[string]any, key string) string {
	if obj == nil {
		return ""
	}
	switch v := obj[key].(type) {
	case string:
		return v
	case map[string]any:
		return stringField(v, "id")
	}
	return ""
}

// timeField parses an ISO-8601 string or a numeric epoch in seconds or
// milliseconds. Non-positive or unparseable values yield nil.
func timeField(obj map[string]any, key string) *time.Time {
	if obj == nil {
		return nil
	}
	return parseTimestamp(obj[key])
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02",
}

// maxEpochMillis is the last millisecond of year 9999.
var maxEpochMillis = float64(time.Date(9999, 12, 31, 23, 59, 59, 999e6, time.UTC).UnixMilli())

func parseTimestamp(v any) *time.Time {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil
		}
		return fromEpoch(f)
	case float64:
		return fromEpoch(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				u := ts.UTC()
				return &u
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f)
		}
	}
	return nil
}

func fromEpoch(n float64) *time.Time {
	if math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return nil
	}
	ms := n
	if n < epochMillisThreshold {
		ms = n * 1000
	}
	if ms < 1 || ms > maxEpochMillis {
		return nil
	}
	t := time.UnixMilli(int64(ms)).UTC()
	return &t
}
