package embedding

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/ollama/ollama/api"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/recall/internal/config"
	"github.com/blueberrycongee/recall/internal/memory"
	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

// recordingBackend captures the prepared text and returns a fixed vector.
type recordingBackend struct {
	seen []string
	vec  []float32
	err  error
}

func (r *recordingBackend) Name() string { return "recording" }

func (r *recordingBackend) Encode(_ context.Context, text string) ([]float32, error) {
	r.seen = append(r.seen, text)
	if r.err != nil {
		return nil, r.err
	}
	return append([]float32(nil), r.vec...), nil
}

func norm2(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestService_RolePrefixAndNormalisation(t *testing.T) {
	b := &recordingBackend{vec: []float32{3, 4}}
	svc := New(b, Options{QueryPrefix: "query: ", DocumentPrefix: "passage: ", Dimensions: 2})

	q, err := svc.Embed(context.Background(), "hello", memory.RoleQuery)
	require.NoError(t, err)
	d, err := svc.Embed(context.Background(), "hello", memory.RoleDocument)
	require.NoError(t, err)

	assert.Equal(t, []string{"query: hello", "passage: hello"}, b.seen)
	assert.InDelta(t, 1, norm2(q), 1e-6)
	assert.InDelta(t, 0.6, q[0], 1e-6)
	assert.Equal(t, q, d)
}

func TestService_TruncatesInputOnly(t *testing.T) {
	b := &recordingBackend{vec: []float32{1}}
	svc := New(b, Options{MaxInputChars: 3})

	_, err := svc.Embed(context.Background(), "日本語テキスト", memory.RoleDocument)
	require.NoError(t, err)
	assert.Equal(t, "日本語", b.seen[0])
}

func TestService_NFKC(t *testing.T) {
	svc := New(&recordingBackend{vec: []float32{1}}, Options{})
	assert.Equal(t, "ABC", svc.Prepare("ＡＢＣ", memory.RoleDocument))
}

func TestService_Errors(t *testing.T) {
	t.Run("backend failure", func(t *testing.T) {
		svc := New(&recordingBackend{err: errors.New("boom")}, Options{})
		_, err := svc.Embed(context.Background(), "x", memory.RoleQuery)
		e, ok := llmerrors.As(err)
		require.True(t, ok)
		assert.Equal(t, llmerrors.KindEmbedding, e.Kind)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		svc := New(&recordingBackend{vec: []float32{1, 2, 3}}, Options{Dimensions: 2})
		_, err := svc.Embed(context.Background(), "x", memory.RoleQuery)
		e, ok := llmerrors.As(err)
		require.True(t, ok)
		assert.Contains(t, e.Message, "3 dimensions")
	})

	t.Run("empty vector", func(t *testing.T) {
		svc := New(&recordingBackend{vec: nil}, Options{})
		_, err := svc.Embed(context.Background(), "x", memory.RoleQuery)
		assert.Error(t, err)
	})
}

func TestHashBackend_Deterministic(t *testing.T) {
	svc := New(NewHashBackend(64), Options{QueryPrefix: "query: ", Dimensions: 64})
	ctx := context.Background()

	a, err := svc.Embed(ctx, "the cat sat on the mat", memory.RoleDocument)
	require.NoError(t, err)
	b, err := svc.Embed(ctx, "the cat sat on the mat", memory.RoleDocument)
	require.NoError(t, err)
	assert.Equal(t, a, b, "same text and role must give bit-identical vectors")
	assert.InDelta(t, 1, norm2(a), 1e-5)
}

func TestHashBackend_SharedVocabularyIsCloser(t *testing.T) {
	svc := New(NewHashBackend(256), Options{Dimensions: 256})
	ctx := context.Background()

	base, _ := svc.Embed(ctx, "we hiked up the mountain trail in autumn", memory.RoleDocument)
	near, _ := svc.Embed(ctx, "hiking the mountain trail", memory.RoleDocument)
	far, _ := svc.Embed(ctx, "quarterly invoice reconciliation spreadsheet", memory.RoleDocument)

	assert.Less(t, memory.Distance(base, near), memory.Distance(base, far))
}

type fakeOllama struct {
	req *api.EmbedRequest
}

func (f *fakeOllama) Embed(_ context.Context, req *api.EmbedRequest) (*api.EmbedResponse, error) {
	f.req = req
	return &api.EmbedResponse{Embeddings: [][]float32{{0, 2}}}, nil
}

func TestOllamaBackend(t *testing.T) {
	fake := &fakeOllama{}
	svc := New(NewOllamaBackendWithClient(fake, "nomic-embed-text"), Options{QueryPrefix: "query: "})

	v, err := svc.Embed(context.Background(), "hi", memory.RoleQuery)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, v)
	assert.Equal(t, "nomic-embed-text", fake.req.Model)
	assert.Equal(t, "query: hi", fake.req.Input)
}

type fakeOpenAI struct {
	req openai.EmbeddingRequest
}

func (f *fakeOpenAI) CreateEmbeddings(_ context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	f.req = conv.Convert()
	return openai.EmbeddingResponse{Data: []openai.Embedding{{Embedding: []float32{1, 0}}}}, nil
}

func TestOpenAIBackend(t *testing.T) {
	fake := &fakeOpenAI{}
	svc := New(NewOpenAIBackendWithClient(fake, "text-embedding-3-small", 2), Options{Dimensions: 2})

	v, err := svc.Embed(context.Background(), "hi", memory.RoleDocument)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, v)
	assert.Equal(t, []string{"hi"}, fake.req.Input)
	assert.Equal(t, 2, fake.req.Dimensions)
}

func TestOpen(t *testing.T) {
	cfg := config.DefaultConfig().Embedding
	svc, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "hash", svc.Backend())
	assert.Equal(t, cfg.Dimensions, svc.Dimensions())

	cfg.Backend = "word2vec"
	_, err = Open(context.Background(), cfg)
	e, ok := llmerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, llmerrors.KindModelLoad, e.Kind)
}

func TestOpen_ONNXWithoutBuildTag(t *testing.T) {
	cfg := config.DefaultConfig().Embedding
	cfg.Backend = "onnx"
	cfg.ONNX.ModelPath = "/nonexistent/model.onnx"
	_, err := Open(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "onnx"))
}
