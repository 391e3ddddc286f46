package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// ValidationError collects every field problem found in one payload.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return "invalid event: " + strings.Join(parts, "; ")
}

// RequiredFields must be present and non-empty in every payload.
var RequiredFields = []string{"user_id", "event_type", "product_id", "category_id", "user_session", "event_time"}

// eventTimeLayouts lists the accepted event_time formats; the first is the dataset's native one.
var eventTimeLayouts = []string{
	"2006-01-02 15:04:05 MST",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParsePayload decodes a JSON clickstream payload into an Event. TxnTimestamp and SortKey are
// left zero: they are assigned at write time, never taken from the client.
func ParsePayload(data []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Event{}, fmt.Errorf("decode payload: %w", err)
	}
	if raw == nil {
		return Event{}, errors.New("decode payload: not a JSON object")
	}

	var errs []FieldError
	required := make(map[string]string, len(RequiredFields))
	for _, f := range RequiredFields {
		v, ok := stringField(raw, f)
		if !ok || v == "" {
			errs = append(errs, FieldError{f, "required"})
			continue
		}
		required[f] = v
	}
	if uid := required["user_id"]; strings.ContainsRune(uid, 0) {
		errs = append(errs, FieldError{"user_id", "must not contain NUL"})
	}

	var eventTime time.Time
	if s, ok := required["event_time"]; ok {
		t, err := parseEventTime(s)
		if err != nil {
			errs = append(errs, FieldError{"event_time", err.Error()})
		}
		eventTime = t
	}
	if len(errs) > 0 {
		return Event{}, &ValidationError{Fields: errs}
	}

	code, _ := stringField(raw, "category_code")
	brand, _ := stringField(raw, "brand")
	return Event{
		UserID:       required["user_id"],
		EventTime:    eventTime,
		EventType:    EventType(strings.ToLower(required["event_type"])),
		ProductID:    required["product_id"],
		CategoryID:   required["category_id"],
		CategoryCode: code,
		Brand:        brand,
		Price:        parsePrice(raw["price"]),
		UserSession:  required["user_session"],
	}, nil
}

func stringField(raw map[string]any, key string) (string, bool) {
	switch v := raw[key].(type) {
	case string:
		return strings.TrimSpace(v), true
	case json.Number:
		return v.String(), true
	case bool:
		return fmt.Sprint(v), true
	default:
		return "", false
	}
}

// Prices outside these bounds are treated as unparsable so a short exponent
// form cannot expand into a huge stored record.
const (
	maxPriceLen    = 64
	maxPriceDigits = 38
	maxPriceScale  = 18
)

// parsePrice never fails: unknown, empty, unparsable or negative values become zero.
func parsePrice(v any) decimal.Decimal {
	var s string
	switch p := v.(type) {
	case json.Number:
		s = p.String()
	case string:
		s = strings.TrimSpace(p)
	default:
		return decimal.Zero
	}
	if s == "" || len(s) > maxPriceLen {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	if exp := d.Exponent(); exp < -maxPriceScale || exp > maxPriceScale {
		return decimal.Zero
	}
	if d.NumDigits() > maxPriceDigits {
		return decimal.Zero
	}
	return d
}

func parseEventTime(s string) (time.Time, error) {
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
