// Package tokenizer converts between text and token ids for the runner and
// its reference decode loop.
package tokenizer

import (
	"errors"
	"fmt"
	"slices"
)

// ErrUnknownToken is returned when decoding an id outside the vocabulary.
var ErrUnknownToken = errors.New("unknown token")

// Tokenizer is the text codec used by prefill (Encode) and decode (Decode).
type Tokenizer interface {
	// Encode tokenizes text, prepending numBOS BOS tokens and appending
	// numEOS copies of the first EOS token.
	Encode(text string, numBOS, numEOS int) ([]uint64, error)
	// Decode returns the text for a single token. Special tokens decode to
	// the empty string.
	Decode(id uint64) (string, error)
	BOSID() uint64
	EOSIDs() []uint64
	VocabSize() int
}

// IsEOS reports whether id is one of tok's end-of-sequence tokens.
func IsEOS(tok Tokenizer, id uint64) bool {
	return slices.Contains(tok.EOSIDs(), id)
}

func wrapSpecials(ids []uint64, bos uint64, eos []uint64, numBOS, numEOS int) ([]uint64, error) {
	if numEOS > 0 && len(eos) == 0 {
		return nil, fmt.Errorf("tokenizer has no eos token")
	}
	out := make([]uint64, 0, numBOS+len(ids)+numEOS)
	for range numBOS {
		out = append(out, bos)
	}
	out = append(out, ids...)
	for range numEOS {
		out = append(out, eos[0])
	}
	return out, nil
}

func unknown(id uint64, size int) error {
	return fmt.Errorf("%w: id %d outside vocabulary of %d", ErrUnknownToken, id, size)
}
