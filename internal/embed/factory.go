//go:build !onnx

package embed

import "log/slog"

// NewModel builds the configured model backend. Builds without the onnx
// tag fall back to the deterministic token-hash model so hooks keep
// working on hosts without the runtime library.
func NewModel(backend, modelPath, tokenizerPath, libraryPath string) (Model, error) {
	if backend == "onnx" {
		slog.Warn("onnx backend requested but not compiled in, using token-hash model")
	}
	return MockModel{}, nil
}
