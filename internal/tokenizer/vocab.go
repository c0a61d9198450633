package tokenizer

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Vocab is a fixed-vocabulary tokenizer that encodes by greedy longest
// match. Bytes with no matching piece fall back to "<0xNN>" tokens.
type Vocab struct {
	pieces  []string
	index   map[string]uint64
	byteIDs [256]uint64
	hasByte [256]bool
	special map[uint64]bool
	maxLen  int
	bos     uint64
	eos     []uint64
}

type vocabFile struct {
	Tokens     []string `json:"tokens"`
	BOSID      uint64   `json:"bos_id"`
	EOSIDs     []uint64 `json:"eos_ids"`
	SpecialIDs []uint64 `json:"special_ids,omitempty"`
}

// LoadVocab reads a JSON vocabulary file.
func LoadVocab(path string) (*Vocab, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	v, err := ParseVocab(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// ParseVocab builds a Vocab from the JSON form
// {"tokens": [...], "bos_id": n, "eos_ids": [...], "special_ids": [...]}.
func ParseVocab(data []byte) (*Vocab, error) {
	var f vocabFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse vocab json: %w", err)
	}
	return newVocab(f)
}

func newVocab(f vocabFile) (*Vocab, error) {
	n := uint64(len(f.Tokens))
	if n == 0 {
		return nil, fmt.Errorf("vocab has no tokens")
	}
	if f.BOSID >= n {
		return nil, fmt.Errorf("bos id %d outside vocabulary of %d", f.BOSID, n)
	}
	v := &Vocab{
		pieces:  f.Tokens,
		index:   make(map[string]uint64, len(f.Tokens)),
		special: map[uint64]bool{f.BOSID: true},
		bos:     f.BOSID,
		eos:     f.EOSIDs,
	}
	for _, id := range f.EOSIDs {
		if id >= n {
			return nil, fmt.Errorf("eos id %d outside vocabulary of %d", id, n)
		}
		v.special[id] = true
	}
	for _, id := range f.SpecialIDs {
		if id >= n {
			return nil, fmt.Errorf("special id %d outside vocabulary of %d", id, n)
		}
		v.special[id] = true
	}

	for i, piece := range f.Tokens {
		id := uint64(i)
		if v.special[id] || piece == "" {
			continue
		}
		if b, ok := parseByteToken(piece); ok {
			if !v.hasByte[b] {
				v.byteIDs[b], v.hasByte[b] = id, true
			}
			continue
		}
		if _, dup := v.index[piece]; dup {
			continue
		}
		v.index[piece] = id
		v.maxLen = max(v.maxLen, len(piece))
	}
	return v, nil
}

// DefaultVocab is a small built-in vocabulary: <pad>, <s>, </s>, all 256
// byte tokens, printable ASCII and a handful of common English words.
func DefaultVocab() *Vocab {
	tokens := []string{"<pad>", "<s>", "</s>"}
	for b := range 256 {
		tokens = append(tokens, byteToken(byte(b)))
	}
	for c := byte(' '); c <= '~'; c++ {
		tokens = append(tokens, string(c))
	}
	tokens = append(tokens, defaultWords...)

	v, err := newVocab(vocabFile{Tokens: tokens, BOSID: 1, EOSIDs: []uint64{2}, SpecialIDs: []uint64{0}})
	if err != nil {
		panic(err)
	}
	return v
}

var defaultWords = []string{
	" the", " a", " an", " and", " of", " to", " in", " is", " it", " this",
	" that", " with", " on", " for", " image", " picture", " describe",
	" what", " you", " see", " there", " are", "Describe", "The", "This",
	"What", "ing", "ed", "er", "\n\n",
}

func (v *Vocab) Encode(text string, numBOS, numEOS int) ([]uint64, error) {
	ids := make([]uint64, 0, len(text)/2+1)
	for i := 0; i < len(text); {
		matched := false
		for l := min(v.maxLen, len(text)-i); l > 0; l-- {
			if id, ok := v.index[text[i:i+l]]; ok {
				ids = append(ids, id)
				i += l
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		b := text[i]
		if !v.hasByte[b] {
			return nil, fmt.Errorf("no token for byte 0x%02X at offset %d", b, i)
		}
		ids = append(ids, v.byteIDs[b])
		i++
	}
	return wrapSpecials(ids, v.bos, v.eos, numBOS, numEOS)
}

func (v *Vocab) Decode(id uint64) (string, error) {
	if id >= uint64(len(v.pieces)) {
		return "", unknown(id, len(v.pieces))
	}
	if v.special[id] {
		return "", nil
	}
	piece := v.pieces[id]
	if b, ok := parseByteToken(piece); ok {
		return string([]byte{b}), nil
	}
	return piece, nil
}

func (v *Vocab) BOSID() uint64 { return v.bos }

func (v *Vocab) EOSIDs() []uint64 { return v.eos }

func (v *Vocab) VocabSize() int { return len(v.pieces) }

func byteToken(b byte) string {
	return fmt.Sprintf("<0x%02X>", b)
}

func parseByteToken(s string) (byte, bool) {
	if len(s) != 6 || !strings.HasPrefix(s, "<0x") || s[5] != '>' {
		return 0, false
	}
	n, err := strconv.ParseUint(s[3:5], 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(n), true
}
