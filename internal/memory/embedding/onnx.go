//go:build onnx

package embedding

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode"

	"github.com/goccy/go-json"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/blueberrycongee/recall/internal/config"
)

const (
	clsToken = 101
	sepToken = 102
	unkToken = 100
)

// ONNXBackend runs a BERT-style sentence encoder with ONNX Runtime and
// mean-pools the last hidden state over attended tokens.
type ONNXBackend struct {
	session *ort.DynamicAdvancedSession
	vocab   map[string]int
	dims    int
	maxLen  int

	// ONNX Runtime sessions are not safe for concurrent Run calls.
	mu sync.Mutex
}

var ortInit sync.Once

// NewONNXBackend loads the model and tokenizer. Any failure is fatal at startup.
func NewONNXBackend(cfg config.EmbeddingConfig) (Backend, error) {
	var initErr error
	ortInit.Do(func() {
		if cfg.ONNX.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.ONNX.LibraryPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", initErr)
	}

	vocab, err := loadVocab(cfg.ONNX.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ONNX.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	maxLen := cfg.ONNX.MaxSequenceLength
	if maxLen <= 2 {
		maxLen = 512
	}
	return &ONNXBackend{session: session, vocab: vocab, dims: cfg.Dimensions, maxLen: maxLen}, nil
}

func (b *ONNXBackend) Name() string { return "onnx" }

func (b *ONNXBackend) Encode(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens := b.tokenize(text)
	if len(tokens) > b.maxLen-2 {
		tokens = tokens[:b.maxLen-2]
	}
	seqLen := len(tokens) + 2

	inputIDs := make([]int64, seqLen)
	mask := make([]int64, seqLen)
	typeIDs := make([]int64, seqLen)
	inputIDs[0] = clsToken
	copy(inputIDs[1:], tokens)
	inputIDs[seqLen-1] = sepToken
	for i := range mask {
		mask[i] = 1
	}

	shape := ort.NewShape(1, int64(seqLen))
	idsT, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, err
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, err
	}
	defer maskT.Destroy()
	typeT, err := ort.NewTensor(shape, typeIDs)
	if err != nil {
		return nil, err
	}
	defer typeT.Destroy()

	outputs := []ort.Value{nil}
	b.mu.Lock()
	err = b.session.Run([]ort.Value{idsT, maskT, typeT}, outputs)
	b.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected onnx output type %T", outputs[0])
	}
	data := out.GetData()
	outShape := out.GetShape()
	if len(outShape) != 3 || outShape[0] != 1 {
		return nil, fmt.Errorf("unexpected onnx output shape %v", outShape)
	}
	hidden := int(outShape[2])
	if b.dims > 0 && hidden != b.dims {
		return nil, fmt.Errorf("hidden size %d, want %d", hidden, b.dims)
	}

	vec := make([]float32, hidden)
	for i := 0; i < int(outShape[1]); i++ {
		row := data[i*hidden : (i+1)*hidden]
		for j, v := range row {
			vec[j] += v
		}
	}
	n := float32(outShape[1])
	for j := range vec {
		vec[j] /= n
	}
	return vec, nil
}

// tokenize performs lower-cased greedy WordPiece tokenisation.
func (b *ONNXBackend) tokenize(text string) []int64 {
	var ids []int64
	for _, word := range splitWords(strings.ToLower(text)) {
		if id, ok := b.vocab[word]; ok {
			ids = append(ids, int64(id))
			continue
		}
		runes := []rune(word)
		for start := 0; start < len(runes); {
			end := len(runes)
			matched := false
			for ; end > start; end-- {
				piece := string(runes[start:end])
				if start > 0 {
					piece = "##" + piece
				}
				if id, ok := b.vocab[piece]; ok {
					ids = append(ids, int64(id))
					matched = true
					break
				}
			}
			if !matched {
				ids = append(ids, unkToken)
				end = start + 1
			}
			start = end
		}
	}
	return ids
}

// splitWords splits on whitespace and isolates punctuation and CJK runes,
// as BERT's basic tokenizer does.
func splitWords(s string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

func loadVocab(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, err
	}
	if len(tok.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer %s has an empty vocabulary", path)
	}
	return tok.Model.Vocab, nil
}
