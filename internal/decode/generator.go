package decode

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/samcharles93/mmrunner/internal/logger"
	"github.com/samcharles93/mmrunner/internal/logits"
	"github.com/samcharles93/mmrunner/internal/runner"
	"github.com/samcharles93/mmrunner/internal/tokenizer"
)

// Generator runs the autoregressive loop: forward the previous token, sample
// the next, report it, repeat.
type Generator struct {
	model     Model
	tok       tokenizer.Tokenizer
	sampler   *logits.Sampler
	log       logger.Logger
	ignoreEOS bool
	stop      atomic.Bool
}

var _ runner.TokenGenerator = (*Generator)(nil)

func NewGenerator(m Model, tok tokenizer.Tokenizer, sampler *logits.Sampler, log logger.Logger) *Generator {
	if sampler == nil {
		sampler = logits.NewSampler(logits.SamplerConfig{})
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Generator{model: m, tok: tok, sampler: sampler, log: log.With("component", "generator")}
}

func (g *Generator) Load(ctx context.Context) error {
	return loadModel(ctx, g.model)
}

func (g *Generator) IsLoaded() bool {
	return g.model.IsLoaded()
}

func (g *Generator) SetIgnoreEOS(ignore bool) {
	g.ignoreEOS = ignore
}

// Stop ends the current Generate after the token in flight.
func (g *Generator) Stop() {
	g.stop.Store(true)
}

// Generate feeds the last seed token at startPos and produces up to
// maxNewTokens tokens. It returns the number of forward steps taken, which is
// also the number of cache positions consumed.
func (g *Generator) Generate(ctx context.Context, seed []uint64, startPos int64, maxNewTokens int, temperature float32, cb func(string)) (int, error) {
	g.stop.Store(false)
	if len(seed) == 0 {
		return 0, errors.New("generate requires at least one seed token")
	}
	g.sampler.SetTemperature(temperature)

	prev := seed[len(seed)-1]
	reason := "budget"
	n := 0
	for n < maxNewTokens {
		if err := ctx.Err(); err != nil {
			g.log.Debug("decode cancelled", "generated", n)
			return n, err
		}

		embeds, err := g.model.EmbedTokens([]uint64{prev})
		if err != nil {
			return n, fmt.Errorf("embed token %d: %w", prev, err)
		}
		pos := startPos + int64(n)
		out, err := safeForward(ctx, g.model, embeds, pos)
		if err != nil {
			return n, fmt.Errorf("decode step at pos %d: %w", pos, err)
		}
		n++

		cur := g.sampler.Sample(out)
		piece, err := g.tok.Decode(cur)
		if err != nil {
			g.log.Warn("skipping undecodable token", "token", cur, "error", err)
		} else if cb != nil {
			cb(piece)
		}

		if g.stop.Load() {
			reason = "stopped"
			break
		}
		if !g.ignoreEOS && tokenizer.IsEOS(g.tok, cur) {
			reason = "eos"
			break
		}
		prev = cur
	}

	g.log.Debug("decode finished", "generated", n, "reason", reason)
	return n, nil
}
