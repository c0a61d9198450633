// Package decode implements the runner's prefill and decode collaborators on
// top of an embedding-level language model.
package decode

import (
	"context"
	"fmt"

	"github.com/samcharles93/mmrunner/internal/runner"
)

// Model is a causal language model that works on embedding rows. Forward
// writes embeds into the cache starting at startPos and returns the logits
// for the position after the last row.
type Model interface {
	Load(ctx context.Context) error
	IsLoaded() bool
	EmbedTokens(ids []uint64) ([][]float32, error)
	EncodeImage(img runner.Image) ([][]float32, error)
	EncodeAudio(a runner.Audio) ([][]float32, error)
	Forward(ctx context.Context, embeds [][]float32, startPos int64) ([]float32, error)
	MaxContext() int
}

// Metadata reports the model constants the runner needs, in the runner's
// key space.
func Metadata(m Model, bos uint64, eos []uint64, vocabSize int) runner.Metadata {
	meta := runner.Metadata{
		runner.MetaMaxContextLen: int64(m.MaxContext()),
		runner.MetaMaxSeqLen:     int64(m.MaxContext()),
		runner.MetaBOSID:         int64(bos),
		runner.MetaVocabSize:     int64(vocabSize),
		runner.MetaUseKVCache:    1,
	}
	meta[runner.MetaNumEOS] = int64(len(eos))
	for i, id := range eos {
		meta[runner.EOSIDKey(i)] = int64(id)
	}
	return meta
}

func safeForward(ctx context.Context, m Model, embeds [][]float32, startPos int64) (logits []float32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Forward: %v", rec)
		}
	}()
	return m.Forward(ctx, embeds, startPos)
}

func loadModel(ctx context.Context, m Model) error {
	if m.IsLoaded() {
		return nil
	}
	if err := m.Load(ctx); err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	return nil
}
