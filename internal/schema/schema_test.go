// internal/schema/schema_test.go
package schema

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testSchema = `{
	"model": {"name": "ids_pipeline", "version": "2024.06"},
	"features": [
		{"name": "duration", "type": "int"},
		{"name": "protocol_type", "type": "string", "values": {"tcp": 0, "udp": 1, "icmp": 2}},
		{"name": "src_bytes", "type": "int"},
		{"name": "serror_rate", "type": "float"}
	],
	"labels": {"0": "normal", "1": "anomaly"}
}`

func mustParse(t *testing.T, data string) *Schema {
	t.Helper()
	s, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return s
}

func TestParseDefaults(t *testing.T) {
	s := mustParse(t, testSchema)

	if s.InputName != DefaultInputName {
		t.Errorf("InputName = %q, expected %q", s.InputName, DefaultInputName)
	}
	if s.LabelOutput != DefaultLabelOutput {
		t.Errorf("LabelOutput = %q, expected %q", s.LabelOutput, DefaultLabelOutput)
	}
	if s.ProbabilitiesOutput != DefaultProbabilitiesOutput {
		t.Errorf("ProbabilitiesOutput = %q, expected %q", s.ProbabilitiesOutput, DefaultProbabilitiesOutput)
	}
	if s.NumClasses() != 2 {
		t.Errorf("NumClasses = %d, expected 2", s.NumClasses())
	}
}

func TestParseNormalizesTypeAliases(t *testing.T) {
	s := mustParse(t, `{
		"features": [
			{"name": "a", "type": "Float64"},
			{"name": "b", "type": "INTEGER"},
			{"name": "c", "type": "categorical", "values": {"x": 1}}
		]
	}`)

	expected := []string{TypeFloat, TypeInt, TypeString}
	for i, f := range s.Features {
		if f.Type != expected[i] {
			t.Errorf("Features[%d].Type = %q, expected %q", i, f.Type, expected[i])
		}
	}
}

func TestParseOverridesTensorNames(t *testing.T) {
	s := mustParse(t, `{
		"input_name": "obs",
		"label_output": "output_label",
		"probabilities_output": "output_probability",
		"features": [{"name": "a", "type": "float"}]
	}`)

	if s.InputName != "obs" || s.LabelOutput != "output_label" || s.ProbabilitiesOutput != "output_probability" {
		t.Errorf("tensor names not preserved: %q %q %q", s.InputName, s.LabelOutput, s.ProbabilitiesOutput)
	}
}

func TestParseLabelOrientations(t *testing.T) {
	byID := mustParse(t, `{
		"features": [{"name": "a", "type": "float"}],
		"labels": {"0": "normal", "1": "anomaly"}
	}`)
	byName := mustParse(t, `{
		"features": [{"name": "a", "type": "float"}],
		"labels": {"normal": 0, "anomaly": 1}
	}`)

	for _, s := range []*Schema{byID, byName} {
		if got := s.DecodeLabel(0); got != "normal" {
			t.Errorf("DecodeLabel(0) = %q, expected %q", got, "normal")
		}
		if got := s.DecodeLabel(1); got != "anomaly" {
			t.Errorf("DecodeLabel(1) = %q, expected %q", got, "anomaly")
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"invalid json", `{`},
		{"no features", `{"features": []}`},
		{"unnamed feature", `{"features": [{"type": "float"}]}`},
		{"duplicate feature", `{"features": [{"name": "a", "type": "float"}, {"name": "a", "type": "int"}]}`},
		{"unknown type", `{"features": [{"name": "a", "type": "tensor"}]}`},
		{"categorical without values", `{"features": [{"name": "a", "type": "string"}]}`},
		{"label with no numeric side", `{"features": [{"name": "a", "type": "float"}], "labels": {"normal": "benign"}}`},
		{"duplicate class id", `{"features": [{"name": "a", "type": "float"}], "labels": {"0": "normal", "benign": 0}}`},
	}

	for _, tc := range cases {
		if _, err := Parse([]byte(tc.data)); err == nil {
			t.Errorf("%s: expected Parse to fail", tc.name)
		}
	}
}

func TestVectorOrdersFeatures(t *testing.T) {
	s := mustParse(t, testSchema)

	vector, err := s.Vector(map[string]any{
		"serror_rate":   0.25,
		"src_bytes":     float64(491),
		"protocol_type": "udp",
		"duration":      float64(3),
	})
	if err != nil {
		t.Fatalf("Vector failed: %v", err)
	}

	expected := []float32{3, 1, 491, 0.25}
	if len(vector) != len(expected) {
		t.Fatalf("Expected %d values, got %d", len(expected), len(vector))
	}
	for i, v := range expected {
		if vector[i] != v {
			t.Errorf("vector[%d] = %f, expected %f", i, vector[i], v)
		}
	}
}

func TestVectorCoercesNumericStrings(t *testing.T) {
	s := mustParse(t, testSchema)

	vector, err := s.Vector(map[string]any{
		"duration":      "0",
		"protocol_type": "tcp",
		"src_bytes":     " 491 ",
		"serror_rate":   "0.5",
	})
	if err != nil {
		t.Fatalf("Vector failed: %v", err)
	}

	expected := []float32{0, 0, 491, 0.5}
	for i, v := range expected {
		if vector[i] != v {
			t.Errorf("vector[%d] = %f, expected %f", i, vector[i], v)
		}
	}
}

func TestVectorMissingFields(t *testing.T) {
	s := mustParse(t, testSchema)

	_, err := s.Vector(map[string]any{"duration": float64(0), "src_bytes": float64(1)})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *ValidationError, got: %v", err)
	}

	expected := []string{"protocol_type", "serror_rate"}
	if len(verr.Missing) != len(expected) {
		t.Fatalf("Missing = %v, expected %v", verr.Missing, expected)
	}
	for i, name := range expected {
		if verr.Missing[i] != name {
			t.Errorf("Missing[%d] = %q, expected %q", i, verr.Missing[i], name)
		}
	}
	if len(verr.Fields) != 0 {
		t.Errorf("Expected no field errors alongside missing fields, got %v", verr.Fields)
	}
}

func TestVectorEmptyPayloadListsAllFields(t *testing.T) {
	s := mustParse(t, testSchema)

	_, err := s.Vector(map[string]any{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *ValidationError, got: %v", err)
	}

	expected := []string{"duration", "protocol_type", "src_bytes", "serror_rate"}
	if len(verr.Missing) != len(expected) {
		t.Fatalf("Missing = %v, expected all of %v", verr.Missing, expected)
	}
	for i, name := range expected {
		if verr.Missing[i] != name {
			t.Errorf("Missing[%d] = %q, expected %q (schema order)", i, verr.Missing[i], name)
		}
	}
}

func TestVectorTypeErrors(t *testing.T) {
	s := mustParse(t, testSchema)

	_, err := s.Vector(map[string]any{
		"duration":      "not-a-number",
		"protocol_type": "carrier-pigeon",
		"src_bytes":     3.5,
		"serror_rate":   true,
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *ValidationError, got: %v", err)
	}
	if len(verr.Missing) != 0 {
		t.Errorf("Expected no missing fields, got %v", verr.Missing)
	}

	for _, name := range []string{"duration", "protocol_type", "src_bytes", "serror_rate"} {
		if _, ok := verr.Fields[name]; !ok {
			t.Errorf("Expected a type error for %q, got %v", name, verr.Fields)
		}
	}
	if !strings.Contains(verr.Fields["protocol_type"], "carrier-pigeon") {
		t.Errorf("Expected category error to name the value, got %q", verr.Fields["protocol_type"])
	}
}

func TestVectorRejectsStructuredValues(t *testing.T) {
	s := mustParse(t, testSchema)

	_, err := s.Vector(map[string]any{
		"duration":      []any{1, 2},
		"protocol_type": "tcp",
		"src_bytes":     map[string]any{"n": 1},
		"serror_rate":   nil,
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *ValidationError, got: %v", err)
	}
	for _, name := range []string{"duration", "src_bytes", "serror_rate"} {
		if _, ok := verr.Fields[name]; !ok {
			t.Errorf("Expected a type error for %q", name)
		}
	}
}

func TestVectorIgnoresExtraKeys(t *testing.T) {
	s := mustParse(t, testSchema)

	vector, err := s.Vector(map[string]any{
		"duration":      float64(0),
		"protocol_type": "tcp",
		"src_bytes":     float64(491),
		"serror_rate":   float64(0),
		"comment":       "ignored",
	})
	if err != nil {
		t.Fatalf("Vector failed: %v", err)
	}
	if len(vector) != 4 {
		t.Errorf("Expected 4 values, got %d", len(vector))
	}
}

func TestDecodeLabelFallback(t *testing.T) {
	s := mustParse(t, testSchema)

	if got := s.DecodeLabel(7); got != "7" {
		t.Errorf("DecodeLabel(7) = %q, expected %q", got, "7")
	}

	noLabels := mustParse(t, `{"features": [{"name": "a", "type": "float"}]}`)
	if got := noLabels.DecodeLabel(1); got != "1" {
		t.Errorf("DecodeLabel(1) = %q, expected %q", got, "1")
	}
	if noLabels.NumClasses() != 0 {
		t.Errorf("NumClasses = %d, expected 0", noLabels.NumClasses())
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids_metadata.json")
	if err := os.WriteFile(path, []byte(testSchema), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(s.Features) != 4 {
		t.Errorf("Expected 4 features, got %d", len(s.Features))
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err == nil {
		t.Fatal("Expected Load to fail for a missing file")
	}

	// Startup warns and continues on a missing schema file but treats a
	// malformed one as fatal; that split keys off this sentinel, so the
	// wrapping must preserve it.
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected the error to wrap os.ErrNotExist, got: %v", err)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids_metadata.json")
	if err := os.WriteFile(path, []byte(`{"features": []}`), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected Load to fail for a malformed file")
	}
	if errors.Is(err, os.ErrNotExist) {
		t.Error("Malformed file must not report as missing")
	}
}
