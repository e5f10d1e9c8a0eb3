//go:build onnx

package embed

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXModel runs an all-MiniLM-L6-v2 style sentence transformer through
// ONNX Runtime: WordPiece tokenize, run, mean-pool, L2 normalize.
type ONNXModel struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *wordPieceTokenizer
}

// ONNXConfig locates the model artifacts under <base>/models.
type ONNXConfig struct {
	ModelPath     string
	TokenizerPath string
	LibraryPath   string // shared onnxruntime library; empty uses the default loader path
}

const maxSeqLen = 128

// NewONNX loads the model and tokenizer. Initialisation can take
// hundreds of milliseconds; callers treat it as a suspension point.
func NewONNX(cfg ONNXConfig) (*ONNXModel, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path is required")
	}
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}

	tok, err := loadWordPieceTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ONNXModel{session: session, tokenizer: tok}, nil
}

// Embed converts text to a unit-norm vector.
func (m *ONNXModel) Embed(text string) ([]float32, error) {
	tokens := m.tokenizer.tokenize(text)

	inputIDs := make([]int64, maxSeqLen)
	attentionMask := make([]int64, maxSeqLen)
	tokenTypeIDs := make([]int64, maxSeqLen)

	inputIDs[0] = int64(m.tokenizer.clsToken)
	attentionMask[0] = 1

	n := len(tokens)
	if n > maxSeqLen-2 {
		n = maxSeqLen - 2
	}
	for i := 0; i < n; i++ {
		inputIDs[i+1] = tokens[i]
		attentionMask[i+1] = 1
	}
	inputIDs[n+1] = int64(m.tokenizer.sepToken)
	attentionMask[n+1] = 1

	shape := ort.NewShape(1, int64(maxSeqLen))
	idsT, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer maskT.Destroy()
	typeT, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	defer typeT.Destroy()

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{idsT, maskT, typeT}, outputs); err != nil {
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
		return nil, fmt.Errorf("unexpected output tensor type")
	}

	data := out.GetData()
	outShape := out.GetShape()

	var v []float32
	switch len(outShape) {
	case 2:
		if len(data) < Dim {
			return nil, fmt.Errorf("output dimension mismatch: got %d, want %d", len(data), Dim)
		}
		v = make([]float32, Dim)
		copy(v, data[:Dim])
	case 3:
		seqLen, hidden := int(outShape[1]), int(outShape[2])
		if hidden != Dim {
			return nil, fmt.Errorf("hidden size mismatch: got %d, want %d", hidden, Dim)
		}
		v = make([]float32, Dim)
		var attended float32
		for i := 0; i < seqLen; i++ {
			if attentionMask[i] == 0 {
				continue
			}
			attended++
			off := i * hidden
			for j := 0; j < hidden; j++ {
				v[j] += data[off+j]
			}
		}
		if attended > 0 {
			for j := range v {
				v[j] /= attended
			}
		}
	default:
		return nil, fmt.Errorf("unexpected output shape: %v", outShape)
	}

	return Normalize(v), nil
}

// Close releases ONNX resources.
func (m *ONNXModel) Close() error {
	if m.session != nil {
		return m.session.Destroy()
	}
	return nil
}

type wordPieceTokenizer struct {
	vocab    map[string]int
	clsToken int
	sepToken int
	unkToken int
}

func loadWordPieceTokenizer(path string) (*wordPieceTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var td struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &td); err != nil {
		return nil, err
	}

	return &wordPieceTokenizer{
		vocab:    td.Model.Vocab,
		clsToken: 101,
		sepToken: 102,
		unkToken: 100,
	}, nil
}

func (t *wordPieceTokenizer) tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}
		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		for _, sub := range t.wordPiece(word) {
			if id, ok := t.vocab[sub]; ok {
				tokens = append(tokens, int64(id))
			} else {
				tokens = append(tokens, int64(t.unkToken))
			}
		}
	}
	return tokens
}

func (t *wordPieceTokenizer) wordPiece(word string) []string {
	var subwords []string
	start := 0
	for start < len(word) {
		end := len(word)
		found := false
		for end > start {
			sub := word[start:end]
			if start > 0 {
				sub = "##" + sub
			}
			if _, ok := t.vocab[sub]; ok {
				subwords = append(subwords, sub)
				start = end
				found = true
				break
			}
			end--
		}
		if !found {
			subwords = append(subwords, "[UNK]")
			start++
		}
	}
	return subwords
}
