package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// EncodeRequest builds the request body: a JSON object mapping every
// parameter name to its value in native units.
func EncodeRequest(names []string, values []float64) ([]byte, error) {
	if len(names) != len(values) {
		return nil, fmt.Errorf("encode request: %d names for %d values", len(names), len(values))
	}
	params := make(map[string]float64, len(names))
	for i, name := range names {
		if math.IsNaN(values[i]) || math.IsInf(values[i], 0) {
			return nil, fmt.Errorf("encode request: %s is not finite (%v)", name, values[i])
		}
		params[name] = values[i]
	}
	return json.Marshal(params)
}

// DecodeRequest parses a request body produced by EncodeRequest.
func DecodeRequest(raw []byte) (map[string]float64, error) {
	var params map[string]float64
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if params == nil {
		return nil, fmt.Errorf("decode request: expected a JSON object")
	}
	return params, nil
}

// EncodeReply renders a scalar reply.
func EncodeReply(v float64) []byte {
	return []byte(strconv.FormatFloat(v, 'g', -1, 64))
}

// DecodeReply parses a scalar reply. Surrounding whitespace is ignored;
// anything other than a single JSON number is an error, so Go-only forms
// such as hex floats or digit separators are rejected.
func DecodeReply(raw []byte) (float64, error) {
	text := bytes.TrimSpace(raw)
	if len(text) == 0 {
		return 0, fmt.Errorf("empty reply")
	}
	var v *float64
	if err := json.Unmarshal(text, &v); err != nil || v == nil {
		return 0, fmt.Errorf("reply %q is not a number", truncate(string(text), 64))
	}
	return *v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
