// internal/inference/mock.go
package inference

import (
	"fmt"
)

// MockInference is a mock implementation of InferenceEngine for testing.
// It returns a deterministic prediction without requiring the ONNX shared library.
type MockInference struct {
	// ClassID is the class id returned for every prediction
	ClassID int64
	// Probabilities is the probability vector returned for every prediction
	Probabilities []float32
	// ShouldError if true, Predict will return an error
	ShouldError bool
	// ErrorMessage is the error message to return when ShouldError is true
	ErrorMessage string
	// CallCount tracks the number of times Predict was called
	CallCount int
	// LastFeatures holds a copy of the most recent feature vector
	LastFeatures []float32
}

// NewMock creates a new MockInference predicting class 0 with probabilities [0.9, 0.1]
func NewMock() *MockInference {
	return &MockInference{
		ClassID:       0,
		Probabilities: []float32{0.9, 0.1},
		ShouldError:   false,
	}
}

// NewMockWithResult creates a MockInference with a custom prediction
func NewMockWithResult(classID int64, probabilities []float32) *MockInference {
	return &MockInference{
		ClassID:       classID,
		Probabilities: probabilities,
		ShouldError:   false,
	}
}

// Predict returns the configured deterministic prediction.
// It validates the input and records the call for test assertions.
func (m *MockInference) Predict(features []float32) (*Result, error) {
	m.CallCount++
	m.LastFeatures = append([]float32(nil), features...)

	if m.ShouldError {
		if m.ErrorMessage != "" {
			return nil, fmt.Errorf("%s", m.ErrorMessage)
		}
		return nil, fmt.Errorf("mock inference error")
	}

	if len(features) == 0 {
		return nil, fmt.Errorf("empty feature vector")
	}

	probabilities := append([]float32(nil), m.Probabilities...)
	return &Result{
		ClassID:       m.ClassID,
		Probabilities: probabilities,
	}, nil
}

// Close is a no-op for the mock implementation
func (m *MockInference) Close() error {
	return nil
}

// SetError configures the mock to return an error on the next Predict call
func (m *MockInference) SetError(msg string) {
	m.ShouldError = true
	m.ErrorMessage = msg
}

// ClearError clears any configured error
func (m *MockInference) ClearError() {
	m.ShouldError = false
	m.ErrorMessage = ""
}

// Ensure MockInference implements InferenceEngine at compile time
var _ InferenceEngine = (*MockInference)(nil)
