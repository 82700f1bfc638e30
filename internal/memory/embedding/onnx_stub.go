//go:build !onnx

package embedding

import (
	"errors"

	"github.com/blueberrycongee/recall/internal/config"
)

// NewONNXBackend reports that the binary was built without ONNX support.
func NewONNXBackend(config.EmbeddingConfig) (Backend, error) {
	return nil, errors.New("onnx embedding backend requires building with -tags onnx")
}
