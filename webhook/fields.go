package webhook

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// fields is a loosely typed JSON object. Provider payloads are not strict
// about types, so every accessor returns the zero value for a key that is
// missing or of the wrong shape instead of failing the whole decode.
type fields map[string]json.RawMessage

func objectOf(raw json.RawMessage) fields {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return f
}

// str returns a non-empty JSON string value, else "".
func (f fields) str(key string) string {
	raw, ok := f[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// firstStr returns the first non-empty string among keys.
func (f fields) firstStr(keys ...string) string {
	for _, k := range keys {
		if s := f.str(k); s != "" {
			return s
		}
	}
	return ""
}

func (f fields) obj(key string) fields {
	if f == nil {
		return nil
	}
	return objectOf(f[key])
}

// int accepts a JSON integer or a string holding one.
func (f fields) int(key string) (int64, bool) {
	raw, ok := f[key]
	if !ok {
		return 0, false
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}

	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return 0, false
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// amount returns the first integer among keys, floored at zero.
func (f fields) amount(keys ...string) int64 {
	for _, k := range keys {
		if n, ok := f.int(k); ok {
			return max(n, 0)
		}
	}
	return 0
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// time accepts an ISO-8601 string (naive values are UTC) or epoch seconds.
func (f fields) time(key string) *time.Time {
	if s := f.str(key); s != "" {
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				t = t.UTC()
				return &t
			}
		}
		return nil
	}

	if raw, ok := f[key]; ok {
		var n int64
		if err := json.Unmarshal(raw, &n); err == nil {
			t := time.Unix(n, 0).UTC()
			return &t
		}
	}
	return nil
}

// userID resolves the local user from customer_external_id,
// customer.external_id or metadata.user_id.
func (f fields) userID() string {
	if s := f.str("customer_external_id"); s != "" {
		return s
	}
	if s := f.obj("customer").str("external_id"); s != "" {
		return s
	}
	return f.obj("metadata").str("user_id")
}

// productID resolves product_id or product.id.
func (f fields) productID() string {
	if s := f.str("product_id"); s != "" {
		return s
	}
	return f.obj("product").str("id")
}
