package payload

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/toques-bi/toques/pkg/date"
)

// Document is an opaque JSON payload as returned by the provider. Nothing about its shape is
// assumed until a field is read from it.
type Document struct {
	raw []byte
}

var recordContainers = []string{"data", "applications", "content", "items", "results"}

func Parse(b []byte) (Document, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return Document{}, nil
	}
	if !gjson.ValidBytes(b) {
		return Document{}, errors.New("response body is not valid JSON")
	}

	return Document{raw: b}, nil
}

func FromValue(v any) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Document{}, errors.Wrap(err, "failed to marshal payload")
	}
	return Document{raw: b}, nil
}

func MustFromValue(v any) Document {
	d, err := FromValue(v)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Document) Bytes() []byte { return d.raw }

func (d Document) String() string { return string(d.raw) }

// IsEmpty reports whether there is nothing worth landing: no body, null, {} or [].
func (d Document) IsEmpty() bool {
	if len(d.raw) == 0 {
		return true
	}
	res := gjson.ParseBytes(d.raw)
	switch {
	case res.Type == gjson.Null:
		return true
	case res.IsArray():
		return len(res.Array()) == 0
	case res.IsObject():
		empty := true
		res.ForEach(func(_, _ gjson.Result) bool {
			empty = false
			return false
		})
		return empty
	}
	return false
}

// Get reads a single value by gjson path.
func (d Document) Get(path string) Record {
	return Record{res: gjson.GetBytes(d.raw, path)}
}

// Root returns the whole document as a record.
func (d Document) Root() Record {
	return Record{res: gjson.ParseBytes(d.raw)}
}

// Records returns the list of entities in the document. A top level array is used as is,
// otherwise the first array found under one of the usual container keys.
func (d Document) Records() []Record {
	root := gjson.ParseBytes(d.raw)
	if root.IsArray() {
		return wrap(root.Array())
	}
	if !root.IsObject() {
		return nil
	}

	for _, key := range recordContainers {
		v := root.Get(key)
		if v.IsArray() {
			return wrap(v.Array())
		}
		if v.IsObject() {
			nested := Record{res: v}
			if inner := nested.Records(); inner != nil {
				return inner
			}
		}
	}

	return nil
}

func wrap(items []gjson.Result) []Record {
	out := make([]Record, 0, len(items))
	for _, item := range items {
		out = append(out, Record{res: item})
	}
	return out
}

// Record is a single value inside a document. All accessors are permissive: a missing or
// malformed value yields the zero value instead of an error.
type Record struct {
	res gjson.Result
}

func (r Record) Exists() bool   { return r.res.Exists() && r.res.Type != gjson.Null }
func (r Record) IsObject() bool { return r.res.IsObject() }
func (r Record) IsArray() bool  { return r.res.IsArray() }

func (r Record) Raw() json.RawMessage {
	if !r.res.Exists() {
		return nil
	}
	return json.RawMessage(r.res.Raw)
}

// Value returns the decoded Go value: map[string]any, []any, float64, string, bool or nil.
func (r Record) Value() any { return r.res.Value() }

func (r Record) Get(path string) Record {
	return Record{res: r.res.Get(path)}
}

func (r Record) Records() []Record {
	if r.res.IsArray() {
		return wrap(r.res.Array())
	}
	for _, key := range recordContainers {
		v := r.res.Get(key)
		if v.IsArray() {
			return wrap(v.Array())
		}
	}
	return nil
}

// ForEach iterates over the keys of an object record in document order.
func (r Record) ForEach(fn func(key string, value Record) bool) {
	r.res.ForEach(func(k, v gjson.Result) bool {
		return fn(k.String(), Record{res: v})
	})
}

// first returns the first of the given keys holding a non-null, non-empty value.
func (r Record) first(keys ...string) (gjson.Result, bool) {
	for _, key := range keys {
		v := r.res.Get(gjson.Escape(key))
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if v.Type == gjson.String && strings.TrimSpace(v.Str) == "" {
			continue
		}
		return v, true
	}
	return gjson.Result{}, false
}

// String returns the first present key rendered as text. Numeric ids are rendered without a
// fractional part.
func (r Record) String(keys ...string) string {
	v, ok := r.first(keys...)
	if !ok {
		return ""
	}
	switch v.Type {
	case gjson.Number:
		if v.Num == math.Trunc(v.Num) && math.Abs(v.Num) < 1e15 {
			return strconv.FormatInt(int64(v.Num), 10)
		}
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case gjson.String:
		return strings.TrimSpace(v.Str)
	default:
		return v.String()
	}
}

func (r Record) StringOr(fallback string, keys ...string) string {
	if s := r.String(keys...); s != "" {
		return s
	}
	return fallback
}

func (r Record) Int(keys ...string) int64 {
	return int64(math.Round(r.Float(keys...)))
}

func (r Record) Float(keys ...string) float64 {
	v, ok := r.first(keys...)
	if !ok {
		return 0
	}
	switch v.Type {
	case gjson.Number:
		return v.Num
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	case gjson.True:
		return 1
	}
	return 0
}

// Bool accepts JSON booleans as well as the usual textual spellings.
func (r Record) Bool(def bool, keys ...string) bool {
	v, ok := r.first(keys...)
	if !ok {
		return def
	}
	switch v.Type {
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.Number:
		return v.Num != 0
	}
	switch strings.ToLower(strings.TrimSpace(v.Str)) {
	case "true", "yes", "1", "si", "sí":
		return true
	case "false", "no", "0":
		return false
	}
	return def
}

// Time parses the first present key; epoch milliseconds are accepted for numeric values.
func (r Record) Time(keys ...string) *time.Time {
	v, ok := r.first(keys...)
	if !ok {
		return nil
	}
	if v.Type == gjson.Number {
		t := time.UnixMilli(int64(v.Num)).UTC()
		return &t
	}
	t, err := date.ParseTime(v.Str)
	if err != nil {
		return nil
	}
	return &t
}
