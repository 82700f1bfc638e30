// Package chat answers a conversation with memory-augmented context.
//
// A call moves through RECEIVED, SEARCHING (optional), ASSEMBLING and
// CALLING_LLM before ending in SUCCEEDED or FAILED. Retrieval failures are
// tolerated; the model is then called without retrieved passages.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/blueberrycongee/recall/internal/config"
	"github.com/blueberrycongee/recall/internal/contextbuilder"
	"github.com/blueberrycongee/recall/internal/llm"
	"github.com/blueberrycongee/recall/internal/memory"
	"github.com/blueberrycongee/recall/internal/observability"
	"github.com/blueberrycongee/recall/internal/search"
	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

// Searcher is the retrieval surface chat depends on.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Result, error)
	GraphSearch(ctx context.Context, req search.GraphRequest) (*search.Result, error)
}

// Options wires a Service.
type Options struct {
	Searcher Searcher
	Builder  *contextbuilder.Builder
	Model    llm.Client
	// Config returns the live configuration; chat and search defaults are
	// read on every call so hot reloads apply.
	Config         func() *config.Config
	Instructions   string
	LongTermMemory string
	DialogLog      *DialogLog
	Logger         *slog.Logger
}

// Service runs chat calls.
type Service struct {
	opts   Options
	logger *slog.Logger
}

// NewService creates a chat service.
func NewService(opts Options) *Service {
	if opts.Builder == nil {
		opts.Builder = contextbuilder.NewBuilder(nil, opts.Logger)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{opts: opts, logger: logger.With("component", "chat")}
}

// call tracks the progress of one request.
type call struct {
	debug DebugInfo
	start time.Time
}

func (c *call) enter(state string) { c.debug.States = append(c.debug.States, state) }

// Chat answers req.
func (s *Service) Chat(ctx context.Context, req Request) (*Response, error) {
	ctx, span := observability.StartSpan(ctx, "chat", attribute.Int("messages", len(req.Messages)))
	defer span.End()

	c := &call{start: time.Now(), debug: DebugInfo{ContextTrace: contextbuilder.Trace{}}}
	c.enter(StateReceived)

	reply, err := s.run(ctx, req, c)
	c.debug.DurationMs = time.Since(c.start).Milliseconds()

	entry := DialogEntry{
		RequestID: observability.RequestIDFromContext(ctx),
		Model:     c.debug.Model,
		Messages:  req.Messages,
		DebugInfo: &c.debug,
	}
	if err != nil {
		c.enter(StateFailed)
		entry.Error = err.Error()
		observability.RecordError(span, err)
	} else {
		c.enter(StateSucceeded)
		entry.Response = reply
	}
	if logErr := s.opts.DialogLog.Append(entry); logErr != nil {
		s.logger.Warn("failed to append dialog log", "error", logErr)
	}
	if err != nil {
		return nil, err
	}

	return &Response{
		Status:    "success",
		Response:  Reply{Role: llm.RoleAssistant, Content: reply},
		DebugInfo: c.debug,
	}, nil
}

func (s *Service) run(ctx context.Context, req Request, c *call) (string, error) {
	cfg := s.opts.Config()

	params, err := resolveParams(req.Config, cfg.Chat)
	if err != nil {
		return "", err
	}
	c.debug.Model = params.Model

	latest, images, err := validateMessages(req.Messages)
	if err != nil {
		return "", err
	}
	if err := validateSearch(req.Config.MemorySearch); err != nil {
		return "", err
	}

	today := s.today(ctx, cfg.Chat.TodayLogChars)
	retrieved := s.retrieve(ctx, req, cfg, today, c)
	longTerm := s.opts.LongTermMemory
	if today != "" {
		longTerm = strings.TrimSpace(longTerm + "\n\n" + todayHeader + "\n" + today)
	}

	c.enter(StateAssembling)
	history := make([]contextbuilder.Message, len(req.Messages))
	for i, m := range req.Messages {
		history[i] = contextbuilder.Message{Role: m.Role, Content: m.Content}
	}
	budget := cfg.Chat.ContextBudget
	prompt, trace := s.opts.Builder.Build(contextbuilder.Input{
		Instructions:   s.opts.Instructions,
		LongTermMemory: longTerm,
		Retrieved:      retrieved,
		History:        history,
	}, budget)
	c.debug.ContextTrace = trace
	c.debug.ContextSize = prompt.Size
	c.debug.ContextBudget = budget

	if budget > 0 && prompt.Size > budget {
		return "", llmerrors.NewTokenBudgetError(fmt.Sprintf(
			"instructions alone need %d of a %d budget", prompt.Size, budget))
	}
	if n := len(prompt.History); n == 0 || prompt.History[n-1].Content != latest.Content || prompt.History[n-1].Role != latest.Role {
		return "", llmerrors.NewTokenBudgetError("the latest message does not fit in the context budget")
	}

	c.enter(StateCallingLLM)
	return s.complete(ctx, prompt, images, params, cfg.Chat.Timeout)
}

type generationParams struct {
	Model       string
	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

// resolveParams applies server defaults and rejects out-of-range overrides.
// A sampling parameter is sent when the client set it or its configured
// default is non-zero. The default temperature is left out when the client
// chooses top_p, since some providers reject requests that set both.
func resolveParams(in Config, cfg config.ChatConfig) (generationParams, error) {
	p := generationParams{
		Model:     cfg.Model,
		MaxTokens: int(cfg.MaxTokens.Default),
	}
	if in.Model != "" {
		if len(cfg.AllowedModels) > 0 && !slices.Contains(cfg.AllowedModels, in.Model) {
			return p, llmerrors.NewValidationError(fmt.Sprintf("model %q is not allowed", in.Model))
		}
		p.Model = in.Model
	}
	switch {
	case in.Temperature != nil:
		if !cfg.Temperature.Contains(*in.Temperature) {
			return p, rangeError("temperature", *in.Temperature, cfg.Temperature)
		}
		p.Temperature = in.Temperature
	case in.TopP == nil && cfg.Temperature.Default != 0:
		p.Temperature = &cfg.Temperature.Default
	}
	switch {
	case in.TopP != nil:
		if !cfg.TopP.Contains(*in.TopP) {
			return p, rangeError("top_p", *in.TopP, cfg.TopP)
		}
		p.TopP = in.TopP
	case cfg.TopP.Default != 0:
		p.TopP = &cfg.TopP.Default
	}
	if in.MaxTokens != nil {
		if !cfg.MaxTokens.Contains(float64(*in.MaxTokens)) {
			return p, rangeError("max_tokens", float64(*in.MaxTokens), cfg.MaxTokens)
		}
		p.MaxTokens = *in.MaxTokens
	}
	return p, nil
}

func rangeError(name string, v float64, r config.ParamRange) error {
	return llmerrors.NewValidationError(fmt.Sprintf("%s %g is outside [%g, %g]", name, v, r.Min, r.Max))
}

// validateMessages returns the latest message and its decoded images.
func validateMessages(msgs []Message) (Message, []llm.Image, error) {
	if len(msgs) == 0 {
		return Message{}, nil, llmerrors.NewValidationError("messages must not be empty")
	}
	for i, m := range msgs {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			return Message{}, nil, llmerrors.NewValidationError(fmt.Sprintf("messages[%d].role must be user or assistant", i))
		}
	}
	latest := msgs[len(msgs)-1]
	if latest.Role != llm.RoleUser {
		return Message{}, nil, llmerrors.NewValidationError("the latest message must come from the user")
	}
	if strings.TrimSpace(latest.Content) == "" && len(latest.Images) == 0 {
		return Message{}, nil, llmerrors.NewValidationError("the latest message is empty")
	}
	images := make([]llm.Image, 0, len(latest.Images))
	for i, raw := range latest.Images {
		img, err := llm.ParseImage(raw)
		if err != nil {
			return Message{}, nil, llmerrors.NewValidationError(fmt.Sprintf("images[%d]: %v", i, err))
		}
		images = append(images, img)
	}
	return latest, images, nil
}

func validateSearch(msc MemorySearchConfig) error {
	switch msc.SearchType {
	case "", SearchTypeSearch, SearchTypeGraph:
	default:
		return llmerrors.NewValidationError(fmt.Sprintf("unknown search_type %q", msc.SearchType))
	}
	switch msc.QueryMode {
	case "", QueryModeLatest, QueryModeHistory:
	default:
		return llmerrors.NewValidationError(fmt.Sprintf("unknown query_mode %q", msc.QueryMode))
	}
	if msc.Target != "" {
		if _, ok := memory.ParseTarget(msc.Target); !ok {
			return llmerrors.NewValidationError(fmt.Sprintf("unknown target %q", msc.Target))
		}
	}
	return nil
}

const todayHeader = "Earlier today:"

// today reads the current day's conversation from the dialog log. Read
// failures are logged and treated as an empty log.
func (s *Service) today(ctx context.Context, limit int) string {
	text, err := s.opts.DialogLog.Today(limit)
	if err != nil {
		s.logger.Warn("failed to read dialog log",
			"request_id", observability.RequestIDFromContext(ctx), "error", err)
		return ""
	}
	return text
}

// retrieve runs the configured search. Failures are recorded and swallowed.
func (s *Service) retrieve(ctx context.Context, req Request, cfg *config.Config, today string, c *call) []contextbuilder.Passage {
	msc := req.Config.MemorySearch
	if s.opts.Searcher == nil || (msc.Enabled != nil && !*msc.Enabled) {
		return nil
	}
	limit := cfg.Search.DefaultLimit
	if msc.Limit != nil {
		limit = min(*msc.Limit, cfg.Search.MaxLimit)
	}
	if limit <= 0 {
		return nil
	}

	c.enter(StateSearching)
	searchType := msc.SearchType
	if searchType == "" {
		searchType = SearchTypeSearch
	}
	c.debug.SearchType = searchType

	query := searchQuery(req.Messages, msc.QueryMode, today, cfg.Chat.HistoryQueryChars)
	c.debug.SearchQuery = query
	if strings.TrimSpace(query) == "" {
		return nil
	}

	target := msc.Target
	if target == "" {
		target = cfg.Search.DefaultTarget
	}
	sreq := search.Request{Text: query, Target: target, Limit: limit, Compress: msc.Compress}

	var (
		res *search.Result
		err error
	)
	if searchType == SearchTypeGraph {
		related := cfg.Search.DefaultRelatedLimit
		if msc.RelatedLimit != nil {
			related = *msc.RelatedLimit
		}
		res, err = s.opts.Searcher.GraphSearch(ctx, search.GraphRequest{Request: sreq, RelatedLimit: related})
	} else {
		res, err = s.opts.Searcher.Search(ctx, sreq)
	}
	if err != nil {
		s.logger.Warn("memory search failed, continuing without retrieval",
			"request_id", observability.RequestIDFromContext(ctx), "error", err)
		c.debug.SearchError = err.Error()
		return nil
	}

	c.debug.SearchResults = len(res.Results)
	if res.Compressed {
		c.debug.Compressed = true
		return []contextbuilder.Passage{{Timestamp: timeRange(res.Results), Content: res.CompressedText}}
	}
	passages := make([]contextbuilder.Passage, len(res.Results))
	for i, a := range res.Results {
		passages[i] = contextbuilder.Passage{Timestamp: orNA(a.Timestamp), Content: a.Content}
	}
	return passages
}

// searchQuery picks the retrieval query for mode. History mode reads
// today's log followed by the request's turns.
func searchQuery(msgs []Message, mode, today string, historyChars int) string {
	if mode != QueryModeHistory {
		return msgs[len(msgs)-1].Content
	}
	lines := make([]string, 0, len(msgs)+1)
	if today != "" {
		lines = append(lines, today)
	}
	for _, m := range msgs {
		if m.Content != "" {
			lines = append(lines, m.Role+": "+m.Content)
		}
	}
	runes := []rune(strings.Join(lines, "\n"))
	if historyChars > 0 && len(runes) > historyChars {
		runes = runes[len(runes)-historyChars:]
	}
	return string(runes)
}

func orNA(ts string) string {
	if ts == "" {
		return "N/A"
	}
	return ts
}

// timeRange labels a compressed passage with the span of its sources.
func timeRange(atoms []memory.Atom) string {
	var lo, hi string
	for _, a := range atoms {
		if a.Timestamp == "" {
			continue
		}
		if lo == "" || a.Timestamp < lo {
			lo = a.Timestamp
		}
		if a.Timestamp > hi {
			hi = a.Timestamp
		}
	}
	switch {
	case lo == "":
		return "N/A"
	case lo == hi:
		return lo
	default:
		return lo + " - " + hi
	}
}

// complete forwards the prompt: system is layer 1, a preamble user turn
// carries layers 2 and 3, then the surviving history. The model call is
// detached from client cancellation and bounded by timeout.
func (s *Service) complete(ctx context.Context, prompt *contextbuilder.Prompt, images []llm.Image, p generationParams, timeout time.Duration) (string, error) {
	msgs := make([]llm.Message, 0, len(prompt.History)+1)
	if pre := prompt.Preamble(); pre != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: pre})
	}
	for _, m := range prompt.History {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs[len(msgs)-1].Images = images

	callCtx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, timeout)
		defer cancel()
	}

	text, err := s.opts.Model.Complete(callCtx, llm.Request{
		Model:       p.Model,
		System:      prompt.System,
		Messages:    msgs,
		Temperature: p.Temperature,
		TopP:        p.TopP,
		MaxTokens:   &p.MaxTokens,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", llmerrors.NewLLMError(fmt.Sprintf("model call timed out after %s", timeout)).Wrap(err)
		}
		return "", llmerrors.NewLLMError("model call failed: " + err.Error()).Wrap(err)
	}
	return text, nil
}
