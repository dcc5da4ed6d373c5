package detection

// Default model constants.
const (
	DefaultModelName = "nailong-yolov8"
	DefaultInputSize = 640
)

// ModelInfo describes the model behind a Detector.
type ModelInfo struct {
	Name      string   // e.g., "nailong-yolov8"
	Backend   string   // "tflite" or "remote"
	InputSize int      // square input side in pixels
	Labels    []string // class labels in output order
}

// DefaultModelInfo returns the info of the bundled single-class model.
func DefaultModelInfo() ModelInfo {
	return ModelInfo{
		Name:      DefaultModelName,
		InputSize: DefaultInputSize,
		Labels:    []string{"nailong"},
	}
}
