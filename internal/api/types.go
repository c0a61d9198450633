package api

import "github.com/samcharles93/mmrunner/internal/runner"

// InputItem is one element of a request's input stream. Type selects which
// of the payload fields is read.
type InputItem struct {
	Type   string        `json:"type"`
	Text   string        `json:"text,omitempty"`
	Tokens []uint64      `json:"tokens,omitempty"`
	Image  *ImagePayload `json:"image,omitempty"`
	Audio  *AudioPayload `json:"audio,omitempty"`
}

// ImagePayload carries either an encoded image file in Data, or raw
// channel-major pixels with explicit dimensions. Byte fields are base64 in
// JSON.
type ImagePayload struct {
	Data     []byte `json:"data,omitempty"`
	Pixels   []byte `json:"pixels,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Channels int    `json:"channels,omitempty"`
}

type AudioPayload struct {
	SampleRate int       `json:"sample_rate"`
	Samples    []float32 `json:"samples"`
}

// GenerateConfig overrides the server's default generation settings. Unset
// fields keep the default.
type GenerateConfig struct {
	MaxNewTokens *int     `json:"max_new_tokens,omitempty"`
	SeqLen       *int     `json:"seq_len,omitempty"`
	Temperature  *float32 `json:"temperature,omitempty"`
	NumBOS       *int     `json:"num_bos,omitempty"`
	NumEOS       *int     `json:"num_eos,omitempty"`
	Echo         bool     `json:"echo,omitempty"`
	IgnoreEOS    bool     `json:"ignore_eos,omitempty"`
}

func (g GenerateConfig) apply(base runner.GenerationConfig) runner.GenerationConfig {
	cfg := base
	if g.MaxNewTokens != nil {
		cfg.MaxNewTokens = *g.MaxNewTokens
	}
	if g.SeqLen != nil {
		cfg.SeqLen = *g.SeqLen
	}
	if g.Temperature != nil {
		cfg.Temperature = *g.Temperature
	}
	if g.NumBOS != nil {
		cfg.NumBOS = *g.NumBOS
	}
	if g.NumEOS != nil {
		cfg.NumEOS = *g.NumEOS
	}
	cfg.Echo = g.Echo
	cfg.IgnoreEOS = g.IgnoreEOS
	cfg.Warming = false
	return cfg
}

type GenerateRequest struct {
	Inputs []InputItem    `json:"inputs"`
	Config GenerateConfig `json:"config"`
	Stream bool           `json:"stream,omitempty"`
}

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Generation is the stored outcome of a generate call.
type Generation struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	CreatedAt int64         `json:"created_at"`
	Text      string        `json:"text"`
	Stats     *runner.Stats `json:"stats,omitempty"`
	Error     *ErrorDetail  `json:"error,omitempty"`
}

type PrefillRequest struct {
	Inputs []InputItem `json:"inputs"`
	NumBOS int         `json:"num_bos,omitempty"`
	NumEOS int         `json:"num_eos,omitempty"`
}

type PrefillResponse struct {
	Token uint64 `json:"token"`
	Pos   int64  `json:"pos"`
}

type Status struct {
	Loaded        bool  `json:"loaded"`
	Busy          bool  `json:"busy"`
	Pos           int64 `json:"pos"`
	Pending       bool  `json:"pending"`
	MaxContextLen int64 `json:"max_context_len"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type errorBody struct {
	Error ErrorDetail `json:"error"`
}
