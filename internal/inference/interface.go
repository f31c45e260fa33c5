// internal/inference/interface.go
package inference

// Result holds the raw model outputs for a single feature vector.
type Result struct {
	// ClassID is the predicted class from the model's label output.
	ClassID int64
	// Probabilities holds one probability per class, indexed by class id.
	Probabilities []float32
}

// InferenceEngine defines the interface for running model predictions.
// This abstraction allows for easy mocking in tests and swapping implementations.
type InferenceEngine interface {
	// Predict runs a single encoded feature vector through the model and
	// returns the predicted class with its per-class probabilities.
	Predict(features []float32) (*Result, error)

	// Close releases any resources held by the inference engine.
	Close() error
}
