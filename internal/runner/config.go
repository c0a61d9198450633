package runner

// AutoMaxNewTokens asks the runner to fill the remaining context window.
const AutoMaxNewTokens = -1

// GenerationConfig controls a single Generate call. It is passed by value and
// never mutated by the runner.
type GenerationConfig struct {
	// MaxNewTokens caps the number of tokens produced, including the token
	// returned by prefill. AutoMaxNewTokens means "until the context is full".
	MaxNewTokens int
	// SeqLen caps prompt plus generated length. -1 leaves it unset.
	SeqLen int

	Temperature float32

	NumBOS int
	NumEOS int

	// Echo replays the last text input through the token callback before
	// generation starts.
	Echo bool
	// Warming marks a cache-priming run: nothing is printed and no stats are
	// reported.
	Warming   bool
	IgnoreEOS bool
}

func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		MaxNewTokens: AutoMaxNewTokens,
		SeqLen:       -1,
		Temperature:  0.8,
	}
}

// ResolveMaxNewTokens returns how many tokens may be generated starting from
// numPromptTokens without running past maxContextLen. The result is never
// negative; zero means nothing can be generated.
func (c GenerationConfig) ResolveMaxNewTokens(maxContextLen, numPromptTokens int64) int {
	remaining := maxContextLen - numPromptTokens

	var n int64
	switch {
	case c.SeqLen < 0 && c.MaxNewTokens < 0:
		n = remaining
	case c.SeqLen < 0:
		n = min(int64(c.MaxNewTokens), remaining)
	case c.MaxNewTokens < 0:
		n = min(int64(c.SeqLen), maxContextLen) - numPromptTokens
	default:
		n = min(min(int64(c.SeqLen), maxContextLen)-numPromptTokens, int64(c.MaxNewTokens))
	}
	return int(max(n, 0))
}
