package tokenizer

import (
	"fmt"
	"slices"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	// Dictionaries are embedded; never fetch them over the network.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// DefaultEncoding is the tiktoken encoding used when none is named.
const DefaultEncoding = "cl100k_base"

// encodingInfo lists the vocabulary size and <|endoftext|> id of each
// supported encoding.
type encodingInfo struct {
	size      int
	endOfText uint64
}

var encodings = map[string]encodingInfo{
	"cl100k_base": {size: 100277, endOfText: 100257},
	"p50k_base":   {size: 50281, endOfText: 50256},
	"r50k_base":   {size: 50257, endOfText: 50256},
}

// BPE is a byte-pair tokenizer backed by tiktoken. tiktoken encodings have
// no dedicated BOS token, so <|endoftext|> serves as both BOS and EOS
// unless overridden.
type BPE struct {
	enc  *tiktoken.Tiktoken
	name string
	size int
	bos  uint64
	eos  []uint64
}

type BPEOption func(*BPE)

func WithBOS(id uint64) BPEOption {
	return func(b *BPE) { b.bos = id }
}

func WithEOS(ids ...uint64) BPEOption {
	return func(b *BPE) { b.eos = slices.Clone(ids) }
}

// NewBPE loads a named tiktoken encoding. An empty name selects
// DefaultEncoding.
func NewBPE(encoding string, opts ...BPEOption) (*BPE, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	info, ok := encodings[encoding]
	if !ok {
		return nil, fmt.Errorf("unsupported bpe encoding %q", encoding)
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
	}
	b := &BPE{
		enc:  enc,
		name: encoding,
		size: info.size,
		bos:  info.endOfText,
		eos:  []uint64{info.endOfText},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *BPE) Name() string { return b.name }

func (b *BPE) Encode(text string, numBOS, numEOS int) ([]uint64, error) {
	raw := b.enc.Encode(text, nil, nil)
	ids := make([]uint64, len(raw))
	for i, id := range raw {
		ids[i] = uint64(id)
	}
	return wrapSpecials(ids, b.bos, b.eos, numBOS, numEOS)
}

func (b *BPE) Decode(id uint64) (string, error) {
	if id >= uint64(b.size) {
		return "", unknown(id, b.size)
	}
	if id == b.bos || IsEOS(b, id) {
		return "", nil
	}
	return b.enc.Decode([]int{int(id)}), nil
}

func (b *BPE) BOSID() uint64 { return b.bos }

func (b *BPE) EOSIDs() []uint64 { return b.eos }

func (b *BPE) VocabSize() int { return b.size }
