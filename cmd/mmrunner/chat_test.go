package main

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/mmrunner/internal/runner"
)

func TestInterruptHandlerRouting(t *testing.T) {
	t.Parallel()
	var stops, quits int
	h := &interruptHandler{stop: func() { stops++ }, quit: func() { quits++ }}

	h.handle()
	assert.Equal(t, 0, stops)
	assert.Equal(t, 1, quits, "ctrl-c at the prompt ends the session")

	h.replying.Store(true)
	h.handle()
	assert.Equal(t, 1, stops, "ctrl-c during a reply stops generation")
	assert.Equal(t, 1, quits)
}

func TestChatTurnClearsReplying(t *testing.T) {
	t.Parallel()
	r := newToyRunner(t)
	intr := &interruptHandler{stop: r.Stop, quit: func() { t.Error("unexpected quit") }}

	cfg := runner.DefaultGenerationConfig()
	cfg.MaxNewTokens = 4
	cfg.Temperature = 0
	cfg.IgnoreEOS = true
	s := &chatSession{r: r, cfg: cfg, out: io.Discard, intr: intr}

	require.NoError(t, s.turn(context.Background(), "hello"))
	assert.False(t, intr.replying.Load())
	require.NotNil(t, s.last)
	assert.Positive(t, r.Pos())
}
