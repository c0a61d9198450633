// Package toy provides a small deterministic language model. It has no
// trained weights: embeddings and the output head are derived from hashes,
// so the same inputs always produce the same tokens. It exists to exercise
// the runner end to end without a real model file.
package toy

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/samcharles93/mmrunner/internal/decode"
)

type Config struct {
	VocabSize  int
	Hidden     int
	MaxContext int
	// PatchGrid is the number of patches per image side. Every image is
	// resized to PatchGrid*PatchSize pixels square.
	PatchGrid int
	PatchSize int
	// AudioFrame is the number of samples per audio embedding row.
	AudioFrame int
	Seed       uint64
}

func DefaultConfig(vocabSize int) Config {
	return Config{
		VocabSize:  vocabSize,
		Hidden:     32,
		MaxContext: 2048,
		PatchGrid:  4,
		PatchSize:  8,
		AudioFrame: 400,
		Seed:       0x5eed,
	}
}

// ToyLM keeps one hidden state per cache position. Forward at a lower
// position than the cache length rewinds the cache first.
type ToyLM struct {
	cfg    Config
	loaded bool
	head   [][]float32
	states [][]float32
}

var _ decode.Model = (*ToyLM)(nil)

func NewToyLM(cfg Config) (*ToyLM, error) {
	if cfg.VocabSize <= 0 || cfg.Hidden <= 0 || cfg.MaxContext <= 0 {
		return nil, fmt.Errorf("toy model needs positive vocab, hidden and context sizes, got %d/%d/%d",
			cfg.VocabSize, cfg.Hidden, cfg.MaxContext)
	}
	if cfg.PatchGrid <= 0 || cfg.PatchSize <= 0 || cfg.AudioFrame <= 0 {
		return nil, fmt.Errorf("toy model needs positive patch grid, patch size and audio frame")
	}
	return &ToyLM{cfg: cfg}, nil
}

// Load derives the output head. It is idempotent.
func (m *ToyLM) Load(ctx context.Context) error {
	if m.loaded {
		return nil
	}
	head := make([][]float32, m.cfg.VocabSize)
	for v := range head {
		if v%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		head[v] = m.hashVector(0x68656164, uint64(v))
	}
	m.head = head
	m.states = make([][]float32, 0, min(m.cfg.MaxContext, 4096))
	m.loaded = true
	return nil
}

func (m *ToyLM) IsLoaded() bool { return m.loaded }

func (m *ToyLM) MaxContext() int { return m.cfg.MaxContext }

func (m *ToyLM) Config() Config { return m.cfg }

// CacheLen is the number of positions currently held.
func (m *ToyLM) CacheLen() int { return len(m.states) }

func (m *ToyLM) EmbedTokens(ids []uint64) ([][]float32, error) {
	out := make([][]float32, len(ids))
	for i, id := range ids {
		if id >= uint64(m.cfg.VocabSize) {
			return nil, fmt.Errorf("token %d outside vocabulary of %d", id, m.cfg.VocabSize)
		}
		out[i] = m.hashVector(0x746f6b, id)
	}
	return out, nil
}

func (m *ToyLM) Forward(ctx context.Context, embeds [][]float32, startPos int64) ([]float32, error) {
	if !m.loaded {
		return nil, fmt.Errorf("toy model is not loaded")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(embeds) == 0 {
		return nil, fmt.Errorf("forward needs at least one row")
	}
	if startPos < 0 || startPos > int64(len(m.states)) {
		return nil, fmt.Errorf("start position %d leaves a gap after cache length %d", startPos, len(m.states))
	}
	end := startPos + int64(len(embeds))
	if end > int64(m.cfg.MaxContext) {
		return nil, fmt.Errorf("positions [%d, %d) exceed max context %d", startPos, end, m.cfg.MaxContext)
	}

	m.states = m.states[:startPos]
	prev := make([]float32, m.cfg.Hidden)
	if startPos > 0 {
		prev = m.states[startPos-1]
	}
	for i, row := range embeds {
		if len(row) != m.cfg.Hidden {
			return nil, fmt.Errorf("row %d has width %d, want %d", i, len(row), m.cfg.Hidden)
		}
		next := make([]float32, m.cfg.Hidden)
		for j := range next {
			next[j] = float32(math.Tanh(float64(0.5*prev[j] + row[j])))
		}
		m.states = append(m.states, next)
		prev = next
	}

	logits := make([]float32, m.cfg.VocabSize)
	for v, w := range m.head {
		var sum float32
		for j, x := range prev {
			sum += w[j] * x
		}
		logits[v] = sum
	}
	return logits, nil
}

// hashVector expands (domain, key) into a Hidden-wide vector in [-1, 1].
func (m *ToyLM) hashVector(domain, key uint64) []float32 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], m.cfg.Seed^domain)
	binary.LittleEndian.PutUint64(buf[8:], key)
	out := make([]float32, m.cfg.Hidden)
	for j := range out {
		binary.LittleEndian.PutUint64(buf[16:], uint64(j))
		h := xxhash.Sum64(buf[:])
		out[j] = float32(h>>11)/float32(1<<53)*2 - 1
	}
	return out
}
