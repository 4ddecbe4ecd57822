// Package settings reads the optimization configuration document and turns
// it into an immutable, validated Settings value.
//
// Document is the raw accessor: every recognized option has a typed getter
// that coerces the stored value and fails with *errors.ConfigTypeError when
// that is impossible. Settings is built once from a Document at startup.
package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/copyleftdev/dro/internal/errors"
	"github.com/copyleftdev/dro/internal/objective"
)

// Document is a parsed configuration document.
type Document struct {
	name string
	data map[string]interface{}
}

// ReadFile parses a configuration file. Files ending in .toml are decoded as
// TOML, everything else as JSON.
func ReadFile(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading configuration %s", path).WithComponent("settings")
	}

	var doc *Document
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		doc, err = ParseTOML(raw)
	} else {
		doc, err = ParseJSON(raw)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parsing configuration %s", path).WithComponent("settings")
	}
	doc.name = path
	return doc, nil
}

// ParseJSON decodes a JSON configuration document.
func ParseJSON(raw []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	data := make(map[string]interface{})
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return &Document{data: data}, nil
}

// ParseTOML decodes a TOML configuration document.
func ParseTOML(raw []byte) (*Document, error) {
	data := make(map[string]interface{})
	if err := toml.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &Document{data: data}, nil
}

// NewDocument wraps an already decoded document.
func NewDocument(data map[string]interface{}) *Document {
	return &Document{data: data}
}

// Name returns the file the document was read from, if any.
func (d *Document) Name() string { return d.name }

// Lookup returns the raw value at a dotted key such as "param_ranges.min".
func (d *Document) Lookup(key string) (interface{}, bool) {
	var cur interface{} = d.data
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.Lookup(key)
	return ok
}

func (d *Document) require(key, want string) (interface{}, error) {
	v, ok := d.Lookup(key)
	if !ok || v == nil {
		return nil, &errors.ConfigTypeError{Key: key, Want: want}
	}
	return v, nil
}

// Bool returns key coerced to a boolean. Numbers are true when non-zero.
func (d *Document) Bool(key string) (bool, error) {
	v, err := d.require(key, "boolean")
	if err != nil {
		return false, err
	}
	if b, ok := toBool(v); ok {
		return b, nil
	}
	return false, &errors.ConfigTypeError{Key: key, Want: "boolean", Got: v}
}

// Int returns key coerced to an integer. Floats are truncated toward zero.
func (d *Document) Int(key string) (int, error) {
	v, err := d.require(key, "integer")
	if err != nil {
		return 0, err
	}
	if n, ok := toInt(v); ok {
		return n, nil
	}
	return 0, &errors.ConfigTypeError{Key: key, Want: "integer", Got: v}
}

// Float returns key coerced to a float.
func (d *Document) Float(key string) (float64, error) {
	v, err := d.require(key, "float")
	if err != nil {
		return 0, err
	}
	if f, ok := toFloat(v); ok {
		return f, nil
	}
	return 0, &errors.ConfigTypeError{Key: key, Want: "float", Got: v}
}

// String returns key as a string. Non-string values are rejected.
func (d *Document) String(key string) (string, error) {
	v, err := d.require(key, "string")
	if err != nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", &errors.ConfigTypeError{Key: key, Want: "string", Got: v}
}

// FloatSlice returns key as a list of floats.
func (d *Document) FloatSlice(key string) ([]float64, error) {
	v, err := d.require(key, "list of numbers")
	if err != nil {
		return nil, err
	}
	items, ok := toList(v)
	if !ok {
		return nil, &errors.ConfigTypeError{Key: key, Want: "list of numbers", Got: v}
	}
	out := make([]float64, len(items))
	for i, item := range items {
		f, ok := toFloat(item)
		if !ok {
			return nil, &errors.ConfigTypeError{Key: fmt.Sprintf("%s[%d]", key, i), Want: "float", Got: item}
		}
		out[i] = f
	}
	return out, nil
}

// StringSlice returns key as a list of strings.
func (d *Document) StringSlice(key string) ([]string, error) {
	v, err := d.require(key, "list of strings")
	if err != nil {
		return nil, err
	}
	items, ok := toList(v)
	if !ok {
		return nil, &errors.ConfigTypeError{Key: key, Want: "list of strings", Got: v}
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, &errors.ConfigTypeError{Key: fmt.Sprintf("%s[%d]", key, i), Want: "string", Got: item}
		}
		out[i] = s
	}
	return out, nil
}

// ParamRanges pairs param_ranges.min and param_ranges.max. When either list
// disagrees with num_params it returns a nil slice and *errors.ConfigShapeError,
// which callers must check before starting a run.
func (d *Document) ParamRanges() ([]objective.Range, error) {
	n, err := d.NumParams()
	if err != nil {
		return nil, err
	}
	mins, err := d.FloatSlice("param_ranges.min")
	if err != nil {
		return nil, err
	}
	maxs, err := d.FloatSlice("param_ranges.max")
	if err != nil {
		return nil, err
	}
	if len(mins) != n {
		return nil, &errors.ConfigShapeError{Field: "param_ranges.min", Got: len(mins), Want: fmt.Sprintf("%d (num_params)", n)}
	}
	if len(maxs) != n {
		return nil, &errors.ConfigShapeError{Field: "param_ranges.max", Got: len(maxs), Want: fmt.Sprintf("%d (num_params)", n)}
	}

	ranges := make([]objective.Range, n)
	for i := range ranges {
		ranges[i] = objective.Range{Min: mins[i], Max: maxs[i]}
	}
	return ranges, nil
}

// ParamInit returns the configured starting point in native units. An absent
// or empty param_init yields an empty, non-nil slice meaning "sample one".
// Any other length than num_params yields *errors.ConfigShapeError.
func (d *Document) ParamInit() ([]float64, error) {
	if !d.Has("param_init") {
		return []float64{}, nil
	}
	x0, err := d.FloatSlice("param_init")
	if err != nil {
		return nil, err
	}
	n, err := d.NumParams()
	if err != nil {
		return nil, err
	}
	if len(x0) != 0 && len(x0) != n {
		return nil, &errors.ConfigShapeError{Field: "param_init", Got: len(x0), Want: fmt.Sprintf("0 or %d (num_params)", n)}
	}
	return x0, nil
}

// ParamNames returns param_names, or x0..x{N-1} when the document has none.
func (d *Document) ParamNames() ([]string, error) {
	n, err := d.NumParams()
	if err != nil {
		return nil, err
	}
	if !d.Has("param_names") {
		names := make([]string, n)
		for i := range names {
			names[i] = "x" + strconv.Itoa(i)
		}
		return names, nil
	}
	names, err := d.StringSlice("param_names")
	if err != nil {
		return nil, err
	}
	if len(names) != n {
		return nil, &errors.ConfigShapeError{Field: "param_names", Got: len(names), Want: fmt.Sprintf("%d (num_params)", n)}
	}
	return names, nil
}

func toBool(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	default:
		if f, ok := toFloat(v); ok {
			return f != 0, true
		}
	}
	return false, false
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case bool:
		return 0, false
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
	}
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Trunc(f)), true
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func toList(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case []float64:
		out := make([]interface{}, len(t))
		for i, f := range t {
			out[i] = f
		}
		return out, true
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}
