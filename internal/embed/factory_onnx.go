//go:build onnx

package embed

// NewModel builds the configured model backend.
func NewModel(backend, modelPath, tokenizerPath, libraryPath string) (Model, error) {
	if backend == "mock" {
		return MockModel{}, nil
	}
	return NewONNX(ONNXConfig{
		ModelPath:     modelPath,
		TokenizerPath: tokenizerPath,
		LibraryPath:   libraryPath,
	})
}
