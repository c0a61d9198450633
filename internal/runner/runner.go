// Package runner drives multimodal prefill and autoregressive decode for a
// single model instance, tracking the cache position across calls.
//
// A Runner is not safe for concurrent use: Prefill, Generate, Load and Reset
// must be serialised by the caller. Stop may be called from any goroutine.
package runner

import (
	"context"
	"errors"
	"io"
	"iter"
	"maps"
	"os"
	"time"

	"github.com/samcharles93/mmrunner/internal/logger"
)

type Option func(*Runner)

// WithLogger sets the logger. Defaults to logger.Default().
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithStdout sets where generated text is echoed. Defaults to os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(r *Runner) { r.stdout = w }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func WithMemoryProbe(p MemoryProbe) Option {
	return func(r *Runner) { r.mem = p }
}

func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// pendingToken holds the token produced by a standalone Prefill until the
// next Generate with empty inputs takes it.
type pendingToken struct {
	id uint64
	ok bool
}

func (p *pendingToken) set(id uint64) {
	p.id, p.ok = id, true
}

func (p *pendingToken) take() (uint64, bool) {
	id, ok := p.id, p.ok
	*p = pendingToken{}
	return id, ok
}

func (p *pendingToken) clear() {
	*p = pendingToken{}
}

type Runner struct {
	meta      Metadata
	tokenizer Tokenizer
	prefiller Prefiller
	generator TokenGenerator

	log      logger.Logger
	stdout   io.Writer
	now      func() time.Time
	mem      MemoryProbe
	recorder Recorder

	stats   Stats
	pos     int64
	pending pendingToken
}

// New assembles a runner from its collaborators. The runner takes ownership
// of all of them. meta must declare MetaMaxContextLen.
func New(meta Metadata, tok Tokenizer, prefiller Prefiller, gen TokenGenerator, opts ...Option) (*Runner, error) {
	if tok == nil {
		return nil, errors.New("tokenizer is required")
	}
	if prefiller == nil {
		return nil, errors.New("prefiller is required")
	}
	if gen == nil {
		return nil, errors.New("token generator is required")
	}
	if _, ok := meta[MetaMaxContextLen]; !ok {
		return nil, invalidState("metadata is missing %s", MetaMaxContextLen)
	}

	r := &Runner{
		meta:      maps.Clone(meta),
		tokenizer: tok,
		prefiller: prefiller,
		generator: gen,
		log:       logger.Default(),
		stdout:    os.Stdout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("component", "runner")
	return r, nil
}

func (r *Runner) IsLoaded() bool {
	return r.prefiller.IsLoaded() && r.generator.IsLoaded()
}

// Load loads the prefiller and the token generator. It is a no-op when both
// are already loaded.
func (r *Runner) Load(ctx context.Context) error {
	if r.IsLoaded() {
		return nil
	}
	r.stats.ModelLoadStartMS = r.nowMS()
	if err := r.prefiller.Load(ctx); err != nil {
		return err
	}
	if err := r.generator.Load(ctx); err != nil {
		return err
	}
	r.stats.ModelLoadEndMS = r.nowMS()
	r.stats.RSSAfterLoadBytes = r.rss()
	r.log.Debug("model loaded", "load_time", r.stats.ModelLoadTime(), "rss_mib", mib(r.stats.RSSAfterLoadBytes))
	return nil
}

// Pos returns the next cache write position.
func (r *Runner) Pos() int64 { return r.pos }

// HasPending reports whether a Prefill token is waiting for Generate.
func (r *Runner) HasPending() bool { return r.pending.ok }

// Stats returns a snapshot of the current episode's stats.
func (r *Runner) Stats() Stats { return r.stats }

// Metadata returns a copy of the model constants.
func (r *Runner) Metadata() Metadata { return maps.Clone(r.meta) }

// Prefill writes inputs into the cache in order and returns the token the
// model predicts after the last one. The token is kept so that a following
// Generate with no inputs can continue from it.
//
// BOS/EOS counts only apply when the runner is at position 0. If the first
// input is not text, numBOS BOS tokens are prefilled ahead of it.
//
// On error, positions consumed by earlier inputs in the same call stay
// consumed.
func (r *Runner) Prefill(ctx context.Context, inputs []Input, numBOS, numEOS int) (uint64, error) {
	if err := r.Load(ctx); err != nil {
		return 0, err
	}

	var last uint64
	for i, in := range inputs {
		bos, eos := 0, 0
		if i == 0 && r.pos == 0 {
			switch in.Kind() {
			case KindText, KindTokens:
				bos, eos = numBOS, numEOS
			case KindImage, KindAudio:
				if numBOS > 0 {
					tok, ok, err := r.prefillBOS(ctx, numBOS)
					if err != nil {
						return 0, err
					}
					if ok {
						last = tok
					}
				}
			default:
				return 0, invalidArgument("input %d has no modality", i)
			}
		}

		res, err := r.prefiller.Prefill(ctx, in, r.pos, bos, eos)
		if err != nil {
			return 0, err
		}
		r.pos += res.Consumed
		last = res.Token
	}

	r.pending.set(last)
	return last, nil
}

// PrefillText is Prefill for a single text prompt.
func (r *Runner) PrefillText(ctx context.Context, prompt string, numBOS, numEOS int) (uint64, error) {
	return r.Prefill(ctx, []Input{TextInput(prompt)}, numBOS, numEOS)
}

func (r *Runner) prefillBOS(ctx context.Context, n int) (uint64, bool, error) {
	bosID, ok := r.meta.BOSID()
	if !ok {
		return 0, false, nil
	}
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = bosID
	}
	res, err := r.prefiller.Prefill(ctx, TokenInput(ids), r.pos, 0, 0)
	if err != nil {
		return 0, false, err
	}
	r.pos += res.Consumed
	return res.Token, true, nil
}

// GeneratePrompt is Generate for a text prompt. An empty prompt continues
// from a previous Prefill.
func (r *Runner) GeneratePrompt(ctx context.Context, prompt string, cfg GenerationConfig, tokenCB func(string), statsCB func(Stats)) error {
	var inputs []Input
	if prompt != "" {
		inputs = []Input{TextInput(prompt)}
	}
	return r.Generate(ctx, inputs, cfg, tokenCB, statsCB)
}

// Generate prefills inputs and decodes until EOS, the token budget, Stop or
// ctx cancellation. With no inputs it continues from the token left by a
// standalone Prefill.
//
// tokenCB receives every piece of text in order, starting with the token
// predicted by prefill. statsCB fires once after the last token unless
// cfg.Warming is set. Both may be nil.
func (r *Runner) Generate(ctx context.Context, inputs []Input, cfg GenerationConfig, tokenCB func(string), statsCB func(Stats)) error {
	err := r.generate(ctx, inputs, cfg, tokenCB, statsCB)
	if err != nil {
		r.recordFailure(err, cfg)
	}
	return err
}

func (r *Runner) recordFailure(err error, cfg GenerationConfig) {
	if r.recorder != nil && !cfg.Warming {
		r.recorder.RecordFailure(err)
	}
}

func (r *Runner) generate(ctx context.Context, inputs []Input, cfg GenerationConfig, tokenCB func(string), statsCB func(Stats)) error {
	if err := r.Load(ctx); err != nil {
		return err
	}

	log := logger.Warmup(r.log, cfg.Warming)
	if cfg.Warming {
		r.log.Info("doing a warmup run")
	}
	log.Info("memory after loading model", "rss_mib", mib(r.rss()))

	emit := func(piece string) {
		if !cfg.Warming {
			_, _ = io.WriteString(r.stdout, piece)
		}
		if tokenCB != nil {
			tokenCB(piece)
		}
	}

	r.stats.InferenceStartMS = r.nowMS()

	var seed uint64
	if len(inputs) > 0 {
		if last := inputs[len(inputs)-1]; cfg.Echo && last.IsText() {
			emit(last.Text())
		}
		tok, err := r.Prefill(ctx, inputs, cfg.NumBOS, cfg.NumEOS)
		if err != nil {
			return err
		}
		r.pending.clear()
		seed = tok
	} else {
		tok, ok := r.pending.take()
		if !ok {
			return invalidState("empty inputs require a prior Prefill call")
		}
		seed = tok
	}

	return r.decodeFromToken(ctx, seed, cfg, log, emit, statsCB)
}

func (r *Runner) decodeFromToken(ctx context.Context, tok uint64, cfg GenerationConfig, log logger.Logger, emit func(string), statsCB func(Stats)) error {
	now := r.nowMS()
	r.stats.FirstTokenMS = now
	r.stats.PromptEvalEndMS = now
	r.stats.NumPromptTokens = r.pos

	piece, err := r.tokenizer.Decode(tok)
	if err != nil {
		r.log.Error("tokenizer failed to decode prefill token", "token", tok, "error", err)
		return invalidArgument("cannot decode token %d", tok)
	}
	emit(piece)

	r.stats.RSSAfterPrefillBytes = r.rss()
	log.Info("memory after multimodal input processing", "rss_mib", mib(r.stats.RSSAfterPrefillBytes))

	maxContext := r.meta.MaxContextLen()
	maxNew := cfg.ResolveMaxNewTokens(maxContext, r.pos)
	r.log.Info("max new tokens resolved", "max_new_tokens", maxNew, "pos", r.pos, "max_context_len", maxContext)
	if maxNew <= 0 {
		return invalidArgument("max new tokens %d is less than or equal to 0", maxNew)
	}

	r.generator.SetIgnoreEOS(cfg.IgnoreEOS)

	// The prefill token already counts against the budget.
	n, err := r.generator.Generate(ctx, []uint64{tok}, r.pos, maxNew-1, cfg.Temperature, emit)
	if err != nil {
		return err
	}

	r.pos += int64(n)
	r.stats.NumGeneratedTokens = int64(n)
	r.stats.InferenceEndMS = r.nowMS()
	r.stats.RSSAfterGenerateBytes = r.rss()

	if cfg.Warming {
		r.log.Info("warmup run finished")
		return nil
	}

	_, _ = io.WriteString(r.stdout, "\n")
	r.report()
	if r.recorder != nil {
		r.recorder.RecordEpisode(r.stats)
	}
	if statsCB != nil {
		statsCB(r.stats)
	}
	return nil
}

// Stream is the pull form of Generate. Pieces arrive in the same order the
// token callback would see them; a failed call yields its error last.
// Breaking out of the loop stops generation and is not counted as a failure.
func (r *Runner) Stream(ctx context.Context, inputs []Input, cfg GenerationConfig) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		done := false
		err := r.generate(ctx, inputs, cfg, func(piece string) {
			if done {
				return
			}
			if !yield(piece, nil) {
				done = true
				r.Stop()
				cancel()
			}
		}, nil)
		if err == nil {
			return
		}
		if done && errors.Is(err, context.Canceled) {
			r.log.Debug("stream closed by consumer", "pos", r.pos)
			return
		}
		r.recordFailure(err, cfg)
		if !done {
			yield("", err)
		}
	}
}

// Stop asks the decode loop to finish after the current token. It has no
// effect on prefill.
func (r *Runner) Stop() {
	r.generator.Stop()
}

// Reset rewinds the cursor to 0, drops any pending token and clears stats.
// Loaded components stay loaded.
func (r *Runner) Reset() {
	r.pos = 0
	r.pending.clear()
	r.stats.Reset()
}

func (r *Runner) report() {
	r.log.Info("generation report", r.stats.LogArgs()...)
	if line, err := r.stats.JSON(); err == nil {
		r.log.Debug("generation stats", "json", line)
	}
}

func (r *Runner) nowMS() int64 {
	return r.now().UnixMilli()
}

func (r *Runner) rss() uint64 {
	if r.mem == nil {
		return 0
	}
	return r.mem.RSSBytes()
}

func mib(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
