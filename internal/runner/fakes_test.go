package runner

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

type fakeTokenizer struct {
	pieces map[uint64]string
}

func (t fakeTokenizer) Decode(id uint64) (string, error) {
	p, ok := t.pieces[id]
	if !ok {
		return "", fmt.Errorf("unknown token %d", id)
	}
	return p, nil
}

type prefillCall struct {
	Kind     Kind
	StartPos int64
	BOS      int
	EOS      int
	Tokens   []uint64
}

// fakePrefiller consumes one position per whitespace-separated word or
// token, plus BOS/EOS, and a fixed span for media inputs.
type fakePrefiller struct {
	loads  int
	loaded bool
	calls  []prefillCall
	// results are returned in call order; once exhausted, 1000+call index.
	results []uint64
	failAt  int
	loadErr error
}

const (
	fakeImageSpan = 16
	fakeAudioSpan = 8
)

func newFakePrefiller(results ...uint64) *fakePrefiller {
	return &fakePrefiller{results: results, failAt: -1}
}

func (p *fakePrefiller) Load(context.Context) error {
	p.loads++
	if p.loadErr != nil {
		return p.loadErr
	}
	p.loaded = true
	return nil
}

func (p *fakePrefiller) IsLoaded() bool { return p.loaded }

func (p *fakePrefiller) Prefill(_ context.Context, in Input, startPos int64, numBOS, numEOS int) (PrefillResult, error) {
	idx := len(p.calls)
	p.calls = append(p.calls, prefillCall{Kind: in.Kind(), StartPos: startPos, BOS: numBOS, EOS: numEOS, Tokens: in.Tokens()})
	if idx == p.failAt {
		return PrefillResult{}, fmt.Errorf("prefill step %d failed", idx)
	}

	var n int64
	switch in.Kind() {
	case KindText:
		n = int64(len(strings.Fields(in.Text())))
	case KindTokens:
		n = int64(len(in.Tokens()))
	case KindImage:
		n = fakeImageSpan
	case KindAudio:
		n = fakeAudioSpan
	}
	n += int64(numBOS + numEOS)

	tok := uint64(1000 + idx)
	if idx < len(p.results) {
		tok = p.results[idx]
	}
	return PrefillResult{Token: tok, Consumed: n}, nil
}

type generateCall struct {
	Seed         []uint64
	StartPos     int64
	MaxNewTokens int
	Temperature  float32
	IgnoreEOS    bool
}

type fakeGenerator struct {
	tok       fakeTokenizer
	produce   []uint64
	loads     int
	loaded    bool
	ignoreEOS bool
	calls     []generateCall
	stopped   atomic.Bool
	err       error
	// onToken runs after each callback, used to stop mid-stream.
	onToken func(i int)
}

func (g *fakeGenerator) Load(context.Context) error {
	g.loads++
	g.loaded = true
	return nil
}

func (g *fakeGenerator) IsLoaded() bool { return g.loaded }

func (g *fakeGenerator) SetIgnoreEOS(ignore bool) { g.ignoreEOS = ignore }

func (g *fakeGenerator) Generate(ctx context.Context, seed []uint64, startPos int64, maxNewTokens int, temperature float32, cb func(string)) (int, error) {
	g.stopped.Store(false)
	g.calls = append(g.calls, generateCall{
		Seed:         append([]uint64(nil), seed...),
		StartPos:     startPos,
		MaxNewTokens: maxNewTokens,
		Temperature:  temperature,
		IgnoreEOS:    g.ignoreEOS,
	})
	if g.err != nil {
		return 0, g.err
	}

	n := 0
	for _, id := range g.produce {
		if n >= maxNewTokens || g.stopped.Load() {
			break
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		piece, err := g.tok.Decode(id)
		if err != nil {
			return n, err
		}
		cb(piece)
		n++
		if g.onToken != nil {
			g.onToken(n)
		}
	}
	return n, nil
}

func (g *fakeGenerator) Stop() { g.stopped.Store(true) }

type fakeRecorder struct {
	episodes []Stats
	failures []error
}

func (r *fakeRecorder) RecordEpisode(s Stats)   { r.episodes = append(r.episodes, s) }
func (r *fakeRecorder) RecordFailure(err error) { r.failures = append(r.failures, err) }

type fixedProbe uint64

func (p fixedProbe) RSSBytes() uint64 { return uint64(p) }

// tickingClock advances 10ms on every read.
func tickingClock() func() time.Time {
	t := time.UnixMilli(1_700_000_000_000)
	return func() time.Time {
		t = t.Add(10 * time.Millisecond)
		return t
	}
}
