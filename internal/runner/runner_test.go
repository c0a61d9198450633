package runner

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/mmrunner/internal/logger"
)

var testPieces = map[uint64]string{
	1:    "a",
	2:    "b",
	3:    "c",
	7:    "<s>",
	1000: "p0",
	1001: "p1",
	1002: "p2",
	1003: "p3",
	1004: "p4",
}

type harness struct {
	r   *Runner
	pre *fakePrefiller
	gen *fakeGenerator
	out *bytes.Buffer
	rec *fakeRecorder
}

func newHarness(t *testing.T, meta Metadata, produce ...uint64) *harness {
	t.Helper()
	tok := fakeTokenizer{pieces: testPieces}
	h := &harness{
		pre: newFakePrefiller(),
		gen: &fakeGenerator{tok: tok, produce: produce},
		out: &bytes.Buffer{},
		rec: &fakeRecorder{},
	}
	r, err := New(meta, tok, h.pre, h.gen,
		WithLogger(logger.Discard()),
		WithStdout(h.out),
		WithClock(tickingClock()),
		WithMemoryProbe(fixedProbe(64<<20)),
		WithRecorder(h.rec),
	)
	require.NoError(t, err)
	h.r = r
	return h
}

func defaultMeta() Metadata {
	return Metadata{MetaMaxContextLen: 128, MetaBOSID: 7}
}

func greedyConfig() GenerationConfig {
	cfg := DefaultGenerationConfig()
	cfg.Temperature = 0
	return cfg
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	t.Parallel()
	tok := fakeTokenizer{}
	pre := newFakePrefiller()
	gen := &fakeGenerator{}

	_, err := New(defaultMeta(), nil, pre, gen)
	assert.Error(t, err)
	_, err = New(defaultMeta(), tok, nil, gen)
	assert.Error(t, err)
	_, err = New(defaultMeta(), tok, pre, nil)
	assert.Error(t, err)

	_, err = New(Metadata{MetaBOSID: 1}, tok, pre, gen)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestNewCopiesMetadata(t *testing.T) {
	t.Parallel()
	meta := defaultMeta()
	h := newHarness(t, meta)
	meta[MetaMaxContextLen] = 1

	assert.Equal(t, int64(128), h.r.Metadata().MaxContextLen())
}

func TestMetadataEOSIDs(t *testing.T) {
	t.Parallel()
	assert.Empty(t, Metadata{}.EOSIDs())
	assert.Equal(t, []uint64{2}, Metadata{MetaEOSIDs: 2}.EOSIDs())

	meta := Metadata{MetaNumEOS: 2, EOSIDKey(0): 2, EOSIDKey(1): 5}
	assert.Equal(t, []uint64{2, 5}, meta.EOSIDs())
	assert.Equal(t, "get_eos_ids.1", EOSIDKey(1))
}

func TestLoadIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta())
	ctx := context.Background()

	assert.False(t, h.r.IsLoaded())
	require.NoError(t, h.r.Load(ctx))
	assert.True(t, h.r.IsLoaded())
	require.NoError(t, h.r.Load(ctx))
	assert.True(t, h.r.IsLoaded())

	assert.Equal(t, 1, h.pre.loads)
	assert.Equal(t, 1, h.gen.loads)
	assert.Equal(t, uint64(64<<20), h.r.Stats().RSSAfterLoadBytes)
	assert.Positive(t, int64(h.r.Stats().ModelLoadTime()))
}

func TestLoadErrorStopsBeforeGenerator(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta())
	loadErr := errors.New("weights missing")
	h.pre.loadErr = loadErr

	err := h.r.Load(context.Background())
	require.ErrorIs(t, err, loadErr)
	assert.Zero(t, h.gen.loads)
	assert.False(t, h.r.IsLoaded())
}

func TestPrefillTextThenImage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta())

	inputs := []Input{
		TextInput("Describe this image:"),
		ImageInput(Image{Width: 4, Height: 4, Channels: 3, Data: make([]uint8, 48)}),
	}
	tok, err := h.r.Prefill(context.Background(), inputs, 1, 0)
	require.NoError(t, err)

	want := []prefillCall{
		{Kind: KindText, StartPos: 0, BOS: 1, EOS: 0},
		{Kind: KindImage, StartPos: 4, BOS: 0, EOS: 0},
	}
	if diff := cmp.Diff(want, h.pre.calls); diff != "" {
		t.Fatalf("prefill calls mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(4+fakeImageSpan), h.r.Pos())
	assert.Equal(t, uint64(1001), tok)
	assert.True(t, h.r.HasPending())
}

func TestPrefillSyntheticBOSForNonTextFirstInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta())
	h.pre.results = []uint64{42, 43}

	tok, err := h.r.Prefill(context.Background(), []Input{
		ImageInput(Image{Width: 2, Height: 2, Channels: 3, Data: make([]uint8, 12)}),
	}, 2, 0)
	require.NoError(t, err)

	want := []prefillCall{
		{Kind: KindTokens, StartPos: 0, Tokens: []uint64{7, 7}},
		{Kind: KindImage, StartPos: 2},
	}
	if diff := cmp.Diff(want, h.pre.calls); diff != "" {
		t.Fatalf("prefill calls mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(43), tok, "token must come from the real input, not the BOS step")
	assert.Equal(t, int64(2+fakeImageSpan), h.r.Pos())
}

func TestPrefillSkipsBOSWithoutBOSID(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Metadata{MetaMaxContextLen: 128})

	_, err := h.r.Prefill(context.Background(), []Input{
		AudioInput(Audio{SampleRate: 16000, Samples: make([]float32, 160)}),
	}, 1, 0)
	require.NoError(t, err)

	require.Len(t, h.pre.calls, 1)
	assert.Equal(t, KindAudio, h.pre.calls[0].Kind)
	assert.Equal(t, int64(fakeAudioSpan), h.r.Pos())
}

func TestPrefillBOSOnlyAtStart(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta())
	ctx := context.Background()

	_, err := h.r.PrefillText(ctx, "hello", 1, 1)
	require.NoError(t, err)
	_, err = h.r.PrefillText(ctx, "again", 1, 1)
	require.NoError(t, err)

	want := []prefillCall{
		{Kind: KindText, StartPos: 0, BOS: 1, EOS: 1},
		{Kind: KindText, StartPos: 3},
	}
	if diff := cmp.Diff(want, h.pre.calls); diff != "" {
		t.Fatalf("prefill calls mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(4), h.r.Pos())
}

func TestPrefillRejectsZeroInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta())

	_, err := h.r.Prefill(context.Background(), []Input{{}}, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, h.pre.calls)
}

func TestPrefillErrorKeepsEarlierPositions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta())
	h.pre.failAt = 1

	_, err := h.r.Prefill(context.Background(), []Input{
		TextInput("one two"),
		TextInput("three"),
	}, 0, 0)
	require.Error(t, err)
	assert.Equal(t, int64(2), h.r.Pos())
	assert.False(t, h.r.HasPending())
}

func TestPendingTokenConsumedOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta(), 1, 2)
	ctx := context.Background()

	tok, err := h.r.PrefillText(ctx, "hi there", 0, 0)
	require.NoError(t, err)

	require.NoError(t, h.r.Generate(ctx, nil, greedyConfig(), nil, nil))
	require.Len(t, h.gen.calls, 1)
	assert.Equal(t, []uint64{tok}, h.gen.calls[0].Seed)
	assert.False(t, h.r.HasPending())

	err = h.r.Generate(ctx, nil, greedyConfig(), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Len(t, h.gen.calls, 1)
}

func TestGenerateWithInputsClearsPending(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta(), 1)
	ctx := context.Background()

	require.NoError(t, h.r.Generate(ctx, []Input{TextInput("prompt")}, greedyConfig(), nil, nil))
	assert.False(t, h.r.HasPending())

	err := h.r.GeneratePrompt(ctx, "", greedyConfig(), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestGeneratePromptEmptyWithoutPrefill(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta())

	err := h.r.GeneratePrompt(context.Background(), "", greedyConfig(), nil, nil)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Len(t, h.rec.failures, 1)
	assert.ErrorIs(t, h.rec.failures[0], ErrInvalidState)
}

func TestCallbackOrdering(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta(), 2, 3)
	h.pre.results = []uint64{1}

	var events []string
	err := h.r.GeneratePrompt(context.Background(), "write", greedyConfig(),
		func(piece string) { events = append(events, "token:"+piece) },
		func(Stats) { events = append(events, "stats") },
	)
	require.NoError(t, err)

	want := []string{"token:a", "token:b", "token:c", "stats"}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Fatalf("callback order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "abc\n", h.out.String())
}

func TestGenerateForwardsDecodeSettings(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta(), 1, 2)
	cfg := DefaultGenerationConfig()
	cfg.Temperature = 0.5
	cfg.IgnoreEOS = true
	cfg.MaxNewTokens = 4

	require.NoError(t, h.r.GeneratePrompt(context.Background(), "a b c", cfg, nil, nil))

	want := []generateCall{{
		Seed:         []uint64{1000},
		StartPos:     3,
		MaxNewTokens: 3,
		Temperature:  0.5,
		IgnoreEOS:    true,
	}}
	if diff := cmp.Diff(want, h.gen.calls); diff != "" {
		t.Fatalf("generate calls mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(5), h.r.Pos())
}

func TestBudgetGuard(t *testing.T) {
	t.Parallel()
	meta := Metadata{MetaMaxContextLen: 100}
	cfg := greedyConfig()
	cfg.MaxNewTokens = 10

	t.Run("one slot left", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, meta, 1, 2)
		err := h.r.Generate(context.Background(), []Input{TokenInput(make([]uint64, 99))}, cfg, nil, nil)
		require.NoError(t, err)
		require.Len(t, h.gen.calls, 1)
		assert.Zero(t, h.gen.calls[0].MaxNewTokens)
		assert.Equal(t, int64(99), h.r.Pos())
	})

	t.Run("context full", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, meta, 1, 2)
		err := h.r.Generate(context.Background(), []Input{TokenInput(make([]uint64, 100))}, cfg, nil, nil)
		require.ErrorIs(t, err, ErrInvalidArgument)
		assert.Empty(t, h.gen.calls)
	})
}

func TestCursorMonotonicAndReset(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta(), 1, 2)
	ctx := context.Background()

	var positions []int64
	_, err := h.r.PrefillText(ctx, "one two three", 1, 0)
	require.NoError(t, err)
	positions = append(positions, h.r.Pos())

	require.NoError(t, h.r.Generate(ctx, nil, greedyConfig(), nil, nil))
	positions = append(positions, h.r.Pos())

	require.NoError(t, h.r.GeneratePrompt(ctx, "more", greedyConfig(), nil, nil))
	positions = append(positions, h.r.Pos())

	for i := 1; i < len(positions); i++ {
		assert.GreaterOrEqual(t, positions[i], positions[i-1])
	}

	h.r.Reset()
	assert.Zero(t, h.r.Pos())
	assert.False(t, h.r.HasPending())
	assert.Equal(t, Stats{}, h.r.Stats())
	assert.True(t, h.r.IsLoaded())
}

func TestEchoReplaysPrompt(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta(), 1)
	cfg := greedyConfig()
	cfg.Echo = true

	var pieces []string
	err := h.r.GeneratePrompt(context.Background(), "tell me", cfg, func(p string) { pieces = append(pieces, p) }, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"tell me", "p0", "a"}, pieces)
}

func TestWarmupSuppressesReporting(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta(), 1, 2)
	cfg := greedyConfig()
	cfg.Warming = true

	var pieces []string
	statsCalls := 0
	err := h.r.GeneratePrompt(context.Background(), "warm", cfg,
		func(p string) { pieces = append(pieces, p) },
		func(Stats) { statsCalls++ },
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"p0", "a", "b"}, pieces)
	assert.Zero(t, statsCalls)
	assert.Empty(t, h.out.String())
	assert.Empty(t, h.rec.episodes)
}

func TestUndecodablePrefillToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta(), 1)
	h.pre.results = []uint64{9999}

	err := h.r.GeneratePrompt(context.Background(), "x", greedyConfig(), nil, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, h.gen.calls)
}

func TestGeneratorErrorPassesThrough(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta())
	genErr := errors.New("kernel failed")
	h.gen.err = genErr

	err := h.r.GeneratePrompt(context.Background(), "x", greedyConfig(), nil, nil)
	require.ErrorIs(t, err, genErr)
	assert.NotErrorIs(t, err, ErrInvalidArgument)
	require.Len(t, h.rec.failures, 1)
	assert.Empty(t, h.rec.episodes)
}

func TestStatsAfterGenerate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta(), 1, 2)

	var got Stats
	err := h.r.GeneratePrompt(context.Background(), "one two three", greedyConfig(), nil, func(s Stats) { got = s })
	require.NoError(t, err)

	assert.Equal(t, int64(3), got.NumPromptTokens)
	assert.Equal(t, int64(2), got.NumGeneratedTokens)
	assert.Equal(t, uint64(64<<20), got.RSSAfterPrefillBytes)
	assert.Equal(t, uint64(64<<20), got.RSSAfterGenerateBytes)
	assert.Equal(t, got.FirstTokenMS, got.PromptEvalEndMS)
	assert.GreaterOrEqual(t, got.FirstTokenMS, got.InferenceStartMS)
	assert.Greater(t, got.InferenceEndMS, got.PromptEvalEndMS)
	assert.GreaterOrEqual(t, got.InferenceStartMS, got.ModelLoadEndMS)

	require.Len(t, h.rec.episodes, 1)
	assert.Equal(t, got, h.rec.episodes[0])
}

func TestStopHaltsDecode(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta(), 1, 2, 3)
	h.gen.onToken = func(i int) {
		if i == 1 {
			h.r.Stop()
		}
	}

	var pieces []string
	err := h.r.GeneratePrompt(context.Background(), "go", greedyConfig(), func(p string) { pieces = append(pieces, p) }, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"p0", "a"}, pieces)
	assert.Equal(t, int64(2), h.r.Pos())
}

func TestStreamYieldsPieces(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta(), 1, 2)

	var pieces []string
	for piece, err := range h.r.Stream(context.Background(), []Input{TextInput("hi")}, greedyConfig()) {
		require.NoError(t, err)
		pieces = append(pieces, piece)
	}
	assert.Equal(t, []string{"p0", "a", "b"}, pieces)
}

func TestStreamBreakStopsGeneration(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta(), 1, 2, 3)

	var pieces []string
	for piece, err := range h.r.Stream(context.Background(), []Input{TextInput("hi")}, greedyConfig()) {
		require.NoError(t, err)
		pieces = append(pieces, piece)
		if len(pieces) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"p0", "a"}, pieces)
	assert.Equal(t, int64(2), h.r.Pos())
}

func TestStreamBreakIsNotAFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta(), 1, 2, 3)

	var pieces []string
	for piece, err := range h.r.Stream(context.Background(), []Input{TextInput("hi")}, greedyConfig()) {
		require.NoError(t, err)
		pieces = append(pieces, piece)
		break
	}
	assert.Equal(t, []string{"p0"}, pieces)
	assert.Empty(t, h.rec.failures)
}

func TestStreamRecordsFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta())

	for range h.r.Stream(context.Background(), nil, greedyConfig()) {
	}
	require.Len(t, h.rec.failures, 1)
	assert.ErrorIs(t, h.rec.failures[0], ErrInvalidState)
}

func TestStreamYieldsError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultMeta())

	var errs []error
	for piece, err := range h.r.Stream(context.Background(), nil, greedyConfig()) {
		assert.Empty(t, piece)
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrInvalidState)
}
