package runner

import (
	"time"

	"github.com/goccy/go-json"
)

// Stats describes one generation episode. Timestamps are unix milliseconds.
type Stats struct {
	ModelLoadStartMS int64 `json:"model_load_start_ms"`
	ModelLoadEndMS   int64 `json:"model_load_end_ms"`
	InferenceStartMS int64 `json:"inference_start_ms"`
	FirstTokenMS     int64 `json:"first_token_ms"`
	PromptEvalEndMS  int64 `json:"prompt_eval_end_ms"`
	InferenceEndMS   int64 `json:"inference_end_ms"`

	NumPromptTokens    int64 `json:"num_prompt_tokens"`
	NumGeneratedTokens int64 `json:"num_generated_tokens"`

	// Resident set size samples, zero when no probe is configured.
	RSSAfterLoadBytes     uint64 `json:"rss_after_load_bytes,omitempty"`
	RSSAfterPrefillBytes  uint64 `json:"rss_after_prefill_bytes,omitempty"`
	RSSAfterGenerateBytes uint64 `json:"rss_after_generate_bytes,omitempty"`
}

func (s *Stats) Reset() {
	*s = Stats{}
}

func (s Stats) ModelLoadTime() time.Duration {
	return msDuration(s.ModelLoadEndMS - s.ModelLoadStartMS)
}

func (s Stats) InferenceTime() time.Duration {
	return msDuration(s.InferenceEndMS - s.InferenceStartMS)
}

func (s Stats) PromptEvalTime() time.Duration {
	return msDuration(s.PromptEvalEndMS - s.InferenceStartMS)
}

func (s Stats) DecodeTime() time.Duration {
	return msDuration(s.InferenceEndMS - s.PromptEvalEndMS)
}

func (s Stats) TimeToFirstToken() time.Duration {
	return msDuration(s.FirstTokenMS - s.InferenceStartMS)
}

// PromptTokensPerSecond is the prefill throughput, zero when unmeasurable.
func (s Stats) PromptTokensPerSecond() float64 {
	return rate(s.NumPromptTokens, s.PromptEvalTime())
}

// DecodeTokensPerSecond is the decode throughput, zero when unmeasurable.
func (s Stats) DecodeTokensPerSecond() float64 {
	return rate(s.NumGeneratedTokens, s.DecodeTime())
}

// JSON renders the raw counters in a single line, the format consumed by
// benchmark tooling.
func (s Stats) JSON() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// LogArgs flattens the derived report into slog key/value pairs.
func (s Stats) LogArgs() []any {
	return []any{
		"prompt_tokens", s.NumPromptTokens,
		"generated_tokens", s.NumGeneratedTokens,
		"load_time", s.ModelLoadTime(),
		"inference_time", s.InferenceTime(),
		"prompt_eval_time", s.PromptEvalTime(),
		"prompt_tps", s.PromptTokensPerSecond(),
		"decode_time", s.DecodeTime(),
		"decode_tps", s.DecodeTokensPerSecond(),
		"ttft", s.TimeToFirstToken(),
	}
}

func msDuration(ms int64) time.Duration {
	if ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func rate(n int64, d time.Duration) float64 {
	if n <= 0 || d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}
