// Package app builds the process-wide resources shared by every request.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blueberrycongee/recall/internal/chat"
	"github.com/blueberrycongee/recall/internal/config"
	"github.com/blueberrycongee/recall/internal/contextbuilder"
	"github.com/blueberrycongee/recall/internal/llm"
	"github.com/blueberrycongee/recall/internal/memory"
	"github.com/blueberrycongee/recall/internal/memory/chromemstore"
	"github.com/blueberrycongee/recall/internal/memory/embedding"
	"github.com/blueberrycongee/recall/internal/memory/memstore"
	"github.com/blueberrycongee/recall/internal/memory/pgstore"
	"github.com/blueberrycongee/recall/internal/memory/qdrantstore"
	"github.com/blueberrycongee/recall/internal/records"
	"github.com/blueberrycongee/recall/internal/search"
	"github.com/blueberrycongee/recall/internal/summarize"
	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

// Resources holds the singletons built once at startup.
type Resources struct {
	Embedder   *embedding.Service
	Store      memory.Store
	Summarizer *summarize.Service
	Model      llm.Client

	Search  *search.Service
	Records *records.Service
	Chat    *chat.Service

	Logger *slog.Logger
}

// Overrides replaces parts of the resource graph, mainly for tests.
type Overrides struct {
	Embedder memory.Embedder
	Store    memory.Store
	Model    llm.Client
}

// Build creates every resource from the startup configuration. current is
// read again on every chat call so reloadable settings take effect.
func Build(ctx context.Context, current func() *config.Config, logger *slog.Logger) (*Resources, error) {
	return BuildWith(ctx, current, logger, Overrides{})
}

// BuildWith is Build with some resources supplied by the caller.
func BuildWith(ctx context.Context, current func() *config.Config, logger *slog.Logger, o Overrides) (*Resources, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := current()
	r := &Resources{Logger: logger}

	var embedder memory.Embedder = o.Embedder
	if embedder == nil {
		svc, err := embedding.Open(ctx, cfg.Embedding)
		if err != nil {
			return nil, err
		}
		r.Embedder = svc
		embedder = svc
		logger.Info("embedding backend ready", "backend", svc.Backend(), "dimensions", svc.Dimensions())
	}

	r.Store = o.Store
	if r.Store == nil {
		store, err := OpenStore(ctx, cfg.Store, embedder.Dimensions())
		if err != nil {
			return nil, err
		}
		r.Store = store
		logger.Info("record store ready", "driver", cfg.Store.Driver)
	}

	r.Model = o.Model
	if r.Model == nil {
		model, err := llm.Open(ctx, cfg.Chat)
		if err != nil {
			r.Close()
			return nil, llmerrors.NewConfigError("chat provider could not be created").Wrap(err)
		}
		r.Model = model
	}

	summarizer, err := summarize.Open(cfg.Summarization, r.Model, cfg.Chat.Model, logger)
	if err != nil {
		r.Close()
		return nil, llmerrors.NewConfigError("summarization backend could not be created").Wrap(err)
	}
	r.Summarizer = summarizer

	r.Search = search.NewService(embedder, r.Store, summarizer, logger)
	r.Records = records.NewService(r.Store, embedder, logger)

	if cfg.Store.SeedPath != "" {
		if _, err := r.Records.ImportFile(ctx, cfg.Store.SeedPath); err != nil {
			r.Close()
			return nil, err
		}
	}

	instructions, err := chat.LoadText(cfg.Chat.SystemPromptPath, chat.DefaultInstructions)
	if err != nil {
		r.Close()
		return nil, llmerrors.NewConfigError("system prompt could not be loaded").Wrap(err)
	}
	longTerm, err := chat.LoadText(cfg.Chat.MemoryFilePath, "")
	if err != nil {
		r.Close()
		return nil, llmerrors.NewConfigError("long-term memory file could not be loaded").Wrap(err)
	}

	r.Chat = chat.NewService(chat.Options{
		Searcher:       r.Search,
		Builder:        contextbuilder.NewBuilder(contextbuilder.NewSizer(cfg.Chat.Sizer, cfg.Chat.Model), logger),
		Model:          r.Model,
		Config:         current,
		Instructions:   instructions,
		LongTermMemory: longTerm,
		DialogLog:      chat.NewDialogLog(cfg.Chat.DialogLogDir),
		Logger:         logger,
	})
	return r, nil
}

// OpenStore opens the configured record store driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig, dims int) (memory.Store, error) {
	switch cfg.Driver {
	case "memory", "":
		return memstore.New(), nil
	case "postgres":
		return pgstore.New(ctx, pgstore.Options{
			DSN:         cfg.Postgres.DSN,
			Table:       cfg.Postgres.Table,
			Dimensions:  dims,
			AutoMigrate: cfg.Postgres.AutoMigrate,
		})
	case "chromem":
		return chromemstore.New(chromemstore.Options{
			Path:       cfg.Chromem.Path,
			Compress:   cfg.Chromem.Compress,
			Dimensions: dims,
		})
	case "qdrant":
		s, err := qdrantstore.New(qdrantstore.Config{
			Address:    cfg.Qdrant.Address,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Dimensions: dims,
			Timeout:    cfg.Qdrant.Timeout,
		})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureCollection(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, llmerrors.NewConfigError(fmt.Sprintf("unknown store driver %q", cfg.Driver))
	}
}

// Close releases the store.
func (r *Resources) Close() error {
	var errs []error
	if r.Store != nil {
		errs = append(errs, r.Store.Close())
	}
	return errors.Join(errs...)
}
