package runner

import "context"

// Tokenizer turns a single token id back into text.
type Tokenizer interface {
	Decode(id uint64) (string, error)
}

// PrefillResult is the outcome of prefilling one input.
type PrefillResult struct {
	// Token is the model's prediction for the position after the input.
	Token uint64
	// Consumed is the number of cache positions the input occupied.
	Consumed int64
}

// Prefiller writes one input into the model cache starting at startPos.
type Prefiller interface {
	Load(ctx context.Context) error
	IsLoaded() bool
	Prefill(ctx context.Context, in Input, startPos int64, numBOS, numEOS int) (PrefillResult, error)
}

// TokenGenerator runs the autoregressive decode loop.
//
// Generate feeds seed starting at startPos, produces at most maxNewTokens
// tokens, invokes cb once per produced token in order, and returns how many
// tokens were produced. Stop may be called from another goroutine and is
// honoured between tokens.
type TokenGenerator interface {
	Load(ctx context.Context) error
	IsLoaded() bool
	SetIgnoreEOS(ignore bool)
	Generate(ctx context.Context, seed []uint64, startPos int64, maxNewTokens int, temperature float32, cb func(string)) (int, error)
	Stop()
}

// MemoryProbe reports the process resident set size in bytes, or 0 when
// unsupported.
type MemoryProbe interface {
	RSSBytes() uint64
}

// Recorder observes finished episodes. Warmup runs are not recorded.
type Recorder interface {
	RecordEpisode(s Stats)
	RecordFailure(err error)
}
