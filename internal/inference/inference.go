// internal/inference/inference.go
package inference

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Inference wraps an ONNX runtime session for thread-safe inference.
// It implements the InferenceEngine interface.
type Inference struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	numClasses int64
}

// New creates a new Inference by loading the ONNX model from modelPath.
// Tensor names follow the sklearn-onnx exporter defaults (zipmap disabled);
// models exported with other names go through NewWithNames.
func New(modelPath string) (*Inference, error) {
	return NewWithNames(modelPath, "float_input", "label", "probabilities")
}

// NewWithNames creates a new Inference with explicit tensor names: the float
// input, the int64 label output and the float probabilities output.
func NewWithNames(modelPath, inputName, labelOutput, probabilitiesOutput string) (*Inference, error) {
	// Initialize the ONNX runtime environment
	err := ort.InitializeEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	inputNames := []string{inputName}
	outputNames := []string{labelOutput, probabilitiesOutput}

	// Create a dynamic session so the feature width comes from the request
	// tensor rather than being fixed here.
	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		inputNames,
		outputNames,
		nil, // Use default session options
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Inference{
		session:    session,
		numClasses: 2, // Binary normal/anomaly unless the schema says otherwise
	}, nil
}

// Predict runs a single encoded feature vector through the model.
// features: the flattened row in schema order, fed as a [1, len] tensor.
// Returns the predicted class id and the per-class probabilities.
func (inf *Inference) Predict(features []float32) (*Result, error) {
	inf.mu.Lock()
	defer inf.mu.Unlock()

	if inf.session == nil {
		return nil, fmt.Errorf("inference session is nil")
	}

	if len(features) == 0 {
		return nil, fmt.Errorf("empty feature vector")
	}

	// Create input tensor with shape [1, featureDim]
	inputShape := ort.NewShape(1, int64(len(features)))
	inputTensor, err := ort.NewTensor(inputShape, features)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	// Create label output tensor with shape [1]
	labelData := make([]int64, 1)
	labelTensor, err := ort.NewTensor(ort.NewShape(1), labelData)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer labelTensor.Destroy()

	// Create probabilities output tensor with shape [1, numClasses]
	probsData := make([]float32, inf.numClasses)
	probsTensor, err := ort.NewTensor(ort.NewShape(1, inf.numClasses), probsData)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer probsTensor.Destroy()

	// Run inference
	err = inf.session.Run(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{labelTensor, probsTensor},
	)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	// Copy outputs out of the ONNX-owned buffers before they are destroyed
	probabilities := make([]float32, inf.numClasses)
	copy(probabilities, probsTensor.GetData())

	return &Result{
		ClassID:       labelTensor.GetData()[0],
		Probabilities: probabilities,
	}, nil
}

// Close releases the ONNX session resources
func (inf *Inference) Close() error {
	inf.mu.Lock()
	defer inf.mu.Unlock()

	if inf.session != nil {
		err := inf.session.Destroy()
		inf.session = nil
		if err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}

	return ort.DestroyEnvironment()
}

// SetNumClasses sets the number of classes the model's probability output
// carries. Call before the first Predict; the value sizes the output tensor.
func (inf *Inference) SetNumClasses(n int64) {
	inf.mu.Lock()
	defer inf.mu.Unlock()
	if n > 0 {
		inf.numClasses = n
	}
}

// Ensure Inference implements InferenceEngine at compile time
var _ InferenceEngine = (*Inference)(nil)
