package decode

import (
	"context"
	"fmt"

	"github.com/samcharles93/mmrunner/internal/logger"
	"github.com/samcharles93/mmrunner/internal/logits"
	"github.com/samcharles93/mmrunner/internal/runner"
	"github.com/samcharles93/mmrunner/internal/tokenizer"
)

// Prefiller turns one runner input into embedding rows and runs them through
// the model in a single Forward. The next token is the greedy choice.
type Prefiller struct {
	model Model
	tok   tokenizer.Tokenizer
	log   logger.Logger
}

var _ runner.Prefiller = (*Prefiller)(nil)

func NewPrefiller(m Model, tok tokenizer.Tokenizer, log logger.Logger) *Prefiller {
	if log == nil {
		log = logger.Discard()
	}
	return &Prefiller{model: m, tok: tok, log: log.With("component", "prefiller")}
}

func (p *Prefiller) Load(ctx context.Context) error {
	return loadModel(ctx, p.model)
}

func (p *Prefiller) IsLoaded() bool {
	return p.model.IsLoaded()
}

// Prefill encodes in and writes it at startPos. BOS/EOS counts apply to text
// only; token spans are used verbatim.
func (p *Prefiller) Prefill(ctx context.Context, in runner.Input, startPos int64, numBOS, numEOS int) (runner.PrefillResult, error) {
	if err := ctx.Err(); err != nil {
		return runner.PrefillResult{}, err
	}

	embeds, err := p.embed(in, numBOS, numEOS)
	if err != nil {
		return runner.PrefillResult{}, fmt.Errorf("prefill %s: %w", in.Kind(), err)
	}
	if len(embeds) == 0 {
		return runner.PrefillResult{}, fmt.Errorf("prefill %s: input produced no embeddings", in.Kind())
	}

	out, err := safeForward(ctx, p.model, embeds, startPos)
	if err != nil {
		return runner.PrefillResult{}, fmt.Errorf("prefill %s at pos %d: %w", in.Kind(), startPos, err)
	}

	next := uint64(logits.Argmax(out))
	p.log.Debug("prefilled input", "kind", in.Kind().String(), "start_pos", startPos, "rows", len(embeds), "next_token", next)
	return runner.PrefillResult{Token: next, Consumed: int64(len(embeds))}, nil
}

func (p *Prefiller) embed(in runner.Input, numBOS, numEOS int) ([][]float32, error) {
	switch in.Kind() {
	case runner.KindText:
		ids, err := p.tok.Encode(in.Text(), numBOS, numEOS)
		if err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
		return p.model.EmbedTokens(ids)
	case runner.KindTokens:
		return p.model.EmbedTokens(in.Tokens())
	case runner.KindImage:
		return p.model.EncodeImage(in.Image())
	case runner.KindAudio:
		return p.model.EncodeAudio(in.Audio())
	default:
		return nil, fmt.Errorf("unsupported input kind %d", in.Kind())
	}
}
