package chat

import (
	"github.com/blueberrycongee/recall/internal/contextbuilder"
)

// States of one chat call, recorded in order in DebugInfo.States.
const (
	StateReceived   = "RECEIVED"
	StateSearching  = "SEARCHING"
	StateAssembling = "ASSEMBLING"
	StateCallingLLM = "CALLING_LLM"
	StateSucceeded  = "SUCCEEDED"
	StateFailed     = "FAILED"
)

// Search types and query modes accepted in MemorySearchConfig.
const (
	SearchTypeSearch = "search"
	SearchTypeGraph  = "graph_search"

	QueryModeLatest  = "latest"
	QueryModeHistory = "history"
)

// Message is one turn supplied by the client. Images are base64 payloads
// or data URLs and are only honoured on the latest user message.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// MemorySearchConfig controls retrieval for one chat call.
type MemorySearchConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	Target       string `json:"target,omitempty"`
	Limit        *int   `json:"limit,omitempty"`
	SearchType   string `json:"search_type,omitempty"`
	RelatedLimit *int   `json:"related_limit,omitempty"`
	Compress     bool   `json:"compress,omitempty"`
	QueryMode    string `json:"query_mode,omitempty"`
}

// Config carries per-call overrides. Nil fields take server defaults.
type Config struct {
	Model        string             `json:"model,omitempty"`
	Temperature  *float64           `json:"temperature,omitempty"`
	MaxTokens    *int               `json:"max_tokens,omitempty"`
	TopP         *float64           `json:"top_p,omitempty"`
	MemorySearch MemorySearchConfig `json:"memory_search_config"`
}

// Request is a chat call.
type Request struct {
	Messages []Message `json:"messages"`
	Config   Config    `json:"config"`
}

// Reply is the assistant turn.
type Reply struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DebugInfo describes how a response was produced.
type DebugInfo struct {
	States        []string             `json:"states"`
	Model         string               `json:"model,omitempty"`
	SearchType    string               `json:"search_type,omitempty"`
	SearchQuery   string               `json:"search_query,omitempty"`
	SearchResults int                  `json:"search_results"`
	Compressed    bool                 `json:"compressed,omitempty"`
	SearchError   string               `json:"search_error,omitempty"`
	ContextTrace  contextbuilder.Trace `json:"context_trace"`
	ContextSize   int                  `json:"context_size"`
	ContextBudget int                  `json:"context_budget"`
	DurationMs    int64                `json:"duration_ms"`
}

// Response is a successful chat call.
type Response struct {
	Status    string    `json:"status"`
	Response  Reply     `json:"response"`
	DebugInfo DebugInfo `json:"debug_info"`
}
