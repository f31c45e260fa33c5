// Package schema loads the model metadata file exported by the training job
// and validates incoming feature payloads against it. The file is the single
// source of truth for required feature names, their types, categorical
// encodings, the label mapping, and the model's tensor names.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Default tensor names match what the sklearn-onnx exporter produces for a
// pipeline converted with zipmap disabled.
const (
	DefaultInputName           = "float_input"
	DefaultLabelOutput         = "label"
	DefaultProbabilitiesOutput = "probabilities"
)

// Canonical feature types after alias normalization.
const (
	TypeFloat  = "float"
	TypeInt    = "int"
	TypeString = "string"
)

// typeAliases maps accepted spellings in the metadata file to canonical types.
var typeAliases = map[string]string{
	"float":       TypeFloat,
	"float32":     TypeFloat,
	"float64":     TypeFloat,
	"double":      TypeFloat,
	"numeric":     TypeFloat,
	"number":      TypeFloat,
	"int":         TypeInt,
	"int32":       TypeInt,
	"int64":       TypeInt,
	"integer":     TypeInt,
	"string":      TypeString,
	"str":         TypeString,
	"category":    TypeString,
	"categorical": TypeString,
}

// Feature describes one required input column.
type Feature struct {
	Name string `json:"name"`
	Type string `json:"type"`
	// Values encodes categorical features: category name -> numeric code.
	// Required for string features, ignored for numeric ones.
	Values map[string]float32 `json:"values,omitempty"`
}

// ModelInfo is informational metadata about the exported model, logged at
// startup and otherwise unused.
type ModelInfo struct {
	Name      string `json:"name,omitempty"`
	Version   string `json:"version,omitempty"`
	Framework string `json:"framework,omitempty"`
	TrainedAt string `json:"trained_at,omitempty"`
}

// Schema is the parsed metadata file.
type Schema struct {
	Model               ModelInfo      `json:"model,omitempty"`
	InputName           string         `json:"input_name,omitempty"`
	LabelOutput         string         `json:"label_output,omitempty"`
	ProbabilitiesOutput string         `json:"probabilities_output,omitempty"`
	Features            []Feature      `json:"features"`
	Labels              map[string]any `json:"labels,omitempty"`

	// labelNames is the normalized class id -> readable name mapping.
	labelNames map[int64]string
}

// ValidationError reports why a request payload cannot be turned into a
// feature vector. Either Missing or Fields is set, never both: missing
// features are reported first, type problems only once everything is present.
type ValidationError struct {
	// Missing lists absent required features in schema order.
	Missing []string
	// Fields maps a feature name to a description of its type problem.
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("missing required fields: %s", strings.Join(e.Missing, ", "))
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("wrong types for fields: %s", strings.Join(names, ", "))
}

// Load reads and parses the metadata file at path.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid schema file %s: %w", path, err)
	}
	return s, nil
}

// Parse parses raw metadata JSON, normalizes type aliases and the label
// mapping, and applies tensor name defaults.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema JSON: %w", err)
	}

	if len(s.Features) == 0 {
		return nil, fmt.Errorf("schema declares no features")
	}

	seen := make(map[string]bool, len(s.Features))
	for i := range s.Features {
		f := &s.Features[i]
		if f.Name == "" {
			return nil, fmt.Errorf("feature %d has no name", i)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("duplicate feature %q", f.Name)
		}
		seen[f.Name] = true

		canonical, ok := typeAliases[strings.ToLower(strings.TrimSpace(f.Type))]
		if !ok {
			return nil, fmt.Errorf("feature %q has unknown type %q", f.Name, f.Type)
		}
		f.Type = canonical

		if f.Type == TypeString && len(f.Values) == 0 {
			return nil, fmt.Errorf("categorical feature %q has no value encoding", f.Name)
		}
	}

	labelNames, err := normalizeLabels(s.Labels)
	if err != nil {
		return nil, err
	}
	s.labelNames = labelNames

	if s.InputName == "" {
		s.InputName = DefaultInputName
	}
	if s.LabelOutput == "" {
		s.LabelOutput = DefaultLabelOutput
	}
	if s.ProbabilitiesOutput == "" {
		s.ProbabilitiesOutput = DefaultProbabilitiesOutput
	}

	return &s, nil
}

// normalizeLabels accepts the label mapping in either orientation,
// {"0": "normal"} or {"normal": 0}, and returns class id -> name.
func normalizeLabels(raw map[string]any) (map[int64]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	names := make(map[int64]string, len(raw))
	for k, v := range raw {
		var id int64
		var name string

		if parsed, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64); err == nil {
			// Key is the class id, value is the name.
			s, err := labelString(v)
			if err != nil {
				return nil, fmt.Errorf("label mapping entry %q: %w", k, err)
			}
			id, name = parsed, s
		} else {
			// Key is the name, value must carry the class id.
			parsed, err := labelID(v)
			if err != nil {
				return nil, fmt.Errorf("label mapping entry %q: %w", k, err)
			}
			id, name = parsed, k
		}

		if existing, ok := names[id]; ok {
			return nil, fmt.Errorf("label mapping assigns class %d to both %q and %q", id, existing, name)
		}
		names[id] = name
	}
	return names, nil
}

func labelString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case float64:
		if s == math.Trunc(s) {
			return strconv.FormatInt(int64(s), 10), nil
		}
		return strconv.FormatFloat(s, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("label name must be a string, got %T", v)
	}
}

func labelID(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("class id %v is not an integer", n)
		}
		return int64(n), nil
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("class id %q is not numeric", n)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("class id must be numeric, got %T", v)
	}
}

// Vector validates payload against the schema and returns the encoded
// feature vector in schema order. Extra keys in the payload are ignored.
// Failures are reported as a *ValidationError.
func (s *Schema) Vector(payload map[string]any) ([]float32, error) {
	var missing []string
	for _, f := range s.Features {
		if _, ok := payload[f.Name]; !ok {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Missing: missing}
	}

	fields := make(map[string]string)
	vector := make([]float32, 0, len(s.Features))
	for _, f := range s.Features {
		value, problem := f.encode(payload[f.Name])
		if problem != "" {
			fields[f.Name] = problem
			continue
		}
		vector = append(vector, value)
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	return vector, nil
}

// encode coerces a single JSON value to the feature's model input. It
// returns a non-empty problem description instead of an error so the caller
// can collect every bad field in one pass.
func (f *Feature) encode(v any) (float32, string) {
	switch f.Type {
	case TypeFloat:
		return coerceFloat(v)
	case TypeInt:
		return coerceInt(v)
	case TypeString:
		return f.encodeCategory(v)
	}
	// Unreachable after Parse, but fail loudly rather than feed garbage.
	return 0, fmt.Sprintf("feature has unsupported type %q", f.Type)
}

func coerceFloat(v any) (float32, string) {
	switch n := v.(type) {
	case float64:
		return float32(n), ""
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Sprintf("value %q is not numeric and cannot be converted to float", n)
		}
		return float32(parsed), ""
	case nil:
		return 0, "value must not be null"
	case bool:
		return 0, "value must be a number, got a boolean"
	default:
		return 0, "value must be a number or a numeric string"
	}
}

func coerceInt(v any) (float32, string) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, fmt.Sprintf("value %v is not an integer", n)
		}
		return float32(n), ""
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) || parsed != math.Trunc(parsed) {
			return 0, fmt.Sprintf("value %q is not an integer", n)
		}
		return float32(parsed), ""
	case nil:
		return 0, "value must not be null"
	case bool:
		return 0, "value must be an integer, got a boolean"
	default:
		return 0, "value must be an integer or a numeric string"
	}
}

func (f *Feature) encodeCategory(v any) (float32, string) {
	s, ok := v.(string)
	if !ok {
		return 0, "value must be a string"
	}
	code, ok := f.Values[s]
	if !ok {
		return 0, fmt.Sprintf("unknown category %q", s)
	}
	return code, ""
}

// DecodeLabel turns a model class id into its readable name, falling back to
// the decimal id when the mapping does not cover it.
func (s *Schema) DecodeLabel(id int64) string {
	if name, ok := s.labelNames[id]; ok {
		return name
	}
	return strconv.FormatInt(id, 10)
}

// NumClasses reports how many classes the label mapping declares, 0 when the
// schema carries no mapping.
func (s *Schema) NumClasses() int {
	return len(s.labelNames)
}
