package embedding

import (
	"context"
	"fmt"

	"github.com/blueberrycongee/recall/internal/config"
	"github.com/blueberrycongee/recall/internal/memory"
	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

// Open builds the Service for cfg. Failure here is fatal for the process.
func Open(ctx context.Context, cfg config.EmbeddingConfig) (*Service, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case "hash":
		backend = NewHashBackend(cfg.Dimensions)
	case "ollama":
		backend, err = NewOllamaBackend(cfg.OllamaHost, cfg.Model)
	case "openai":
		backend = NewOpenAIBackend(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.Model, cfg.Dimensions)
	case "onnx":
		backend, err = NewONNXBackend(cfg)
	default:
		err = fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, llmerrors.NewModelLoadError("embedding model could not be loaded").Wrap(err)
	}

	svc := New(backend, Options{
		QueryPrefix:    cfg.QueryPrefix,
		DocumentPrefix: cfg.DocumentPrefix,
		MaxInputChars:  cfg.MaxInputChars,
		Dimensions:     cfg.Dimensions,
		Timeout:        cfg.Timeout,
	})

	// Remote backends are probed once so a wrong model name fails at startup.
	if cfg.Backend == "ollama" || cfg.Backend == "openai" {
		if _, err := svc.Embed(ctx, "ping", memory.RoleDocument); err != nil {
			return nil, llmerrors.NewModelLoadError("embedding model probe failed").Wrap(err)
		}
	}
	return svc, nil
}
