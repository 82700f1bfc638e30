// Package llm talks to hosted chat models. Every provider is reduced to a
// single non-streaming Complete call; the caller owns prompt assembly.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/blueberrycongee/recall/internal/metrics"
	"github.com/blueberrycongee/recall/internal/observability"
	"github.com/blueberrycongee/recall/internal/resilience"
)

// Roles used in Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Image is an inline image attached to a user turn.
type Image struct {
	MIMEType string
	Data     []byte
}

// Message is one conversation turn.
type Message struct {
	Role    string
	Content string
	Images  []Image
}

// Request is a single completion request. Nil generation parameters leave
// the provider default in place.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Client is a hosted chat model.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Provider() string
}

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("model returned no text")

const defaultImageMIME = "image/jpeg"

// ParseImage decodes a data URL ("data:image/png;base64,...") or bare base64
// payload. Bare payloads are sniffed and fall back to JPEG.
func ParseImage(s string) (Image, error) {
	s = strings.TrimSpace(s)
	mime := ""
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return Image{}, fmt.Errorf("unsupported data URL: expected base64 payload")
		}
		mime = strings.TrimSuffix(header, ";base64")
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Image{}, fmt.Errorf("decode image: %w", err)
	}
	if mime == "" {
		mime = http.DetectContentType(data)
		if !strings.HasPrefix(mime, "image/") {
			mime = defaultImageMIME
		}
	}
	return Image{MIMEType: mime, Data: data}, nil
}

// DataURL renders an image the way OpenAI-style APIs accept it inline.
func (i Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// instrumented records metrics and spans around every call and fails fast
// while the provider's circuit is open.
type instrumented struct {
	next    Client
	breaker *resilience.CircuitBreaker
}

// Instrument wraps c with metrics, tracing and a circuit breaker.
func Instrument(c Client, breaker *resilience.CircuitBreaker) Client {
	return &instrumented{next: c, breaker: breaker}
}

func (c *instrumented) Provider() string { return c.next.Provider() }

func (c *instrumented) Complete(ctx context.Context, req Request) (string, error) {
	attrs := observability.ModelSpanAttributes{Backend: c.next.Provider(), Model: req.Model}
	if req.MaxTokens != nil {
		attrs.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		attrs.Temperature = *req.Temperature
	}
	ctx, span := observability.StartModelSpan(ctx, "llm.complete", attrs)
	defer span.End()

	start := time.Now()
	var text string
	call := func(ctx context.Context) error {
		var err error
		text, err = c.next.Complete(ctx, req)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}

	outcome := metrics.OutcomeSuccess
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = metrics.OutcomeTimeout
	case err != nil:
		outcome = metrics.OutcomeError
	}
	metrics.RecordModelCall(c.next.Provider(), req.Model, outcome, time.Since(start))
	observability.RecordError(span, err)
	return text, err
}

func float32Ptr(v *float64) *float32 {
	if v == nil {
		return nil
	}
	f := float32(*v)
	return &f
}
