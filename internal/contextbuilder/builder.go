// Package contextbuilder assembles the prompt sent to the chat model from
// four layers, trimming lower-priority layers until the prompt fits a budget.
//
// Priority, highest first: instructions, long-term memory, retrieved
// passages, conversation history. Instructions are never trimmed.
package contextbuilder

import (
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/blueberrycongee/recall/internal/metrics"
	"github.com/blueberrycongee/recall/internal/tokenizer"
)

// Layer names used in trace entries.
const (
	LayerLongTermMemory = "long_term_memory"
	LayerRetrieved      = "retrieved"
	LayerHistory        = "history"
)

const (
	longTermHeader  = "=== Long-term memory ==="
	retrievedHeader = "=== Related past conversations ==="
	passageSep      = "\n\n---\n\n"
)

// Sizer measures prompt text deterministically.
type Sizer interface {
	Size(text string) int
}

// CharSizer counts runes.
type CharSizer struct{}

func (CharSizer) Size(text string) int { return utf8.RuneCountInString(text) }

// NewSizer returns the sizer for a config name: "tokens" or "chars".
func NewSizer(kind, model string) Sizer {
	if kind == "tokens" {
		return tokenizer.Counter{Model: model}
	}
	return CharSizer{}
}

// Passage is one retrieved memory, in rank order.
type Passage struct {
	Timestamp string
	Content   string
}

func (p Passage) render() string {
	return "Time: " + p.Timestamp + "\nContent: " + p.Content
}

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Input is the untrimmed material for a prompt.
type Input struct {
	Instructions   string
	LongTermMemory string
	Retrieved      []Passage
	History        []Message
}

// Prompt is the trimmed result.
type Prompt struct {
	System         string
	LongTermMemory string
	Retrieved      []Passage
	History        []Message
	// Size is the sizer's measure of Text().
	Size int
}

// Preamble renders layers 2 and 3 as a single block of text.
func (p *Prompt) Preamble() string {
	var sections []string
	if p.LongTermMemory != "" {
		sections = append(sections, longTermHeader+"\n"+p.LongTermMemory)
	}
	if len(p.Retrieved) > 0 {
		rendered := make([]string, len(p.Retrieved))
		for i, r := range p.Retrieved {
			rendered[i] = r.render()
		}
		sections = append(sections, retrievedHeader+"\n"+strings.Join(rendered, passageSep))
	}
	return strings.Join(sections, "\n\n")
}

// Text is the canonical rendering the budget is measured against.
func (p *Prompt) Text() string {
	var parts []string
	if p.System != "" {
		parts = append(parts, p.System)
	}
	if pre := p.Preamble(); pre != "" {
		parts = append(parts, pre)
	}
	for _, m := range p.History {
		parts = append(parts, m.Role+": "+m.Content)
	}
	return strings.Join(parts, "\n\n")
}

// TraceEntry records what happened to one layer.
type TraceEntry struct {
	Type      string `json:"type"`
	Truncated bool   `json:"truncated"`
	Count     int    `json:"count"`
}

// Trace lists the layers that were trimmed, in trimming order.
type Trace []TraceEntry

// Builder trims prompts with a fixed sizer.
type Builder struct {
	sizer  Sizer
	logger *slog.Logger
}

// NewBuilder creates a builder. A nil sizer counts characters.
func NewBuilder(sizer Sizer, logger *slog.Logger) *Builder {
	if sizer == nil {
		sizer = CharSizer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{sizer: sizer, logger: logger.With("component", "contextbuilder")}
}

// Build assembles in and trims it to budget. A budget <= 0 disables
// trimming. The returned prompt fits the budget unless the instructions
// alone exceed it.
func (b *Builder) Build(in Input, budget int) (*Prompt, Trace) {
	p := &Prompt{
		System:         in.Instructions,
		LongTermMemory: in.LongTermMemory,
		Retrieved:      append([]Passage(nil), in.Retrieved...),
		History:        append([]Message(nil), in.History...),
	}
	trace := Trace{}
	if budget <= 0 || b.fits(p, budget) {
		p.Size = b.size(p)
		return p, trace
	}

	if e, touched := b.trimHistory(p, budget); touched {
		trace = append(trace, e)
	}
	if !b.fits(p, budget) {
		if e, touched := b.trimRetrieved(p, budget); touched {
			trace = append(trace, e)
		}
	}
	if !b.fits(p, budget) {
		if e, touched := b.trimLongTerm(p, budget); touched {
			trace = append(trace, e)
		}
	}

	for _, e := range trace {
		metrics.RecordTrim(e.Type)
	}
	p.Size = b.size(p)
	if p.Size > budget {
		b.logger.Warn("instructions alone exceed the context budget", "size", p.Size, "budget", budget)
	}
	return p, trace
}

func (b *Builder) size(p *Prompt) int { return b.sizer.Size(p.Text()) }

func (b *Builder) fits(p *Prompt, budget int) bool { return b.size(p) <= budget }

// trimHistory drops the oldest messages, and once dropping would be more
// than needed truncates the oldest survivor keeping its tail.
func (b *Builder) trimHistory(p *Prompt, budget int) (TraceEntry, bool) {
	e := TraceEntry{Type: LayerHistory}
	for len(p.History) > 0 && !b.fits(p, budget) {
		oldest := &p.History[0]
		original := oldest.Content
		oldest.Content = ""
		emptyFits := b.fits(p, budget)
		oldest.Content = original

		if emptyFits {
			runes := []rune(original)
			// Smallest cut that fits; keeping runes[cut:].
			cut := sort.Search(len(runes)+1, func(i int) bool {
				oldest.Content = string(runes[i:])
				return b.fits(p, budget)
			})
			if cut < len(runes) {
				oldest.Content = string(runes[cut:])
				if b.fits(p, budget) {
					e.Truncated = true
					break
				}
			}
		}
		p.History = p.History[1:]
		e.Count++
	}
	return e, e.Count > 0 || e.Truncated
}

// trimRetrieved drops the lowest-ranked passages, then truncates the last
// kept passage keeping its head.
func (b *Builder) trimRetrieved(p *Prompt, budget int) (TraceEntry, bool) {
	e := TraceEntry{Type: LayerRetrieved}
	for len(p.Retrieved) > 0 && !b.fits(p, budget) {
		last := &p.Retrieved[len(p.Retrieved)-1]
		original := last.Content
		last.Content = ""
		emptyFits := b.fits(p, budget)
		last.Content = original

		if emptyFits {
			runes := []rune(original)
			// Largest head that fits.
			n := sort.Search(len(runes)+1, func(i int) bool {
				last.Content = string(runes[:len(runes)-i])
				return b.fits(p, budget)
			})
			keep := len(runes) - n
			if keep > 0 {
				last.Content = string(runes[:keep])
				if b.fits(p, budget) {
					e.Truncated = true
					break
				}
			}
		}
		p.Retrieved = p.Retrieved[:len(p.Retrieved)-1]
		e.Count++
	}
	return e, e.Count > 0 || e.Truncated
}

// trimLongTerm truncates long-term memory keeping its head, dropping it
// entirely when not even one character fits.
func (b *Builder) trimLongTerm(p *Prompt, budget int) (TraceEntry, bool) {
	e := TraceEntry{Type: LayerLongTermMemory}
	if p.LongTermMemory == "" {
		return e, false
	}
	runes := []rune(p.LongTermMemory)
	n := sort.Search(len(runes)+1, func(i int) bool {
		p.LongTermMemory = string(runes[:len(runes)-i])
		return b.fits(p, budget)
	})
	if keep := len(runes) - n; keep > 0 {
		p.LongTermMemory = string(runes[:keep])
		if b.fits(p, budget) {
			e.Truncated = true
			return e, true
		}
	}
	p.LongTermMemory = ""
	e.Count = 1
	return e, true
}
