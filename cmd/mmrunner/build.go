package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/samcharles93/mmrunner/internal/decode"
	"github.com/samcharles93/mmrunner/internal/logger"
	"github.com/samcharles93/mmrunner/internal/logits"
	"github.com/samcharles93/mmrunner/internal/runner"
	"github.com/samcharles93/mmrunner/internal/sysinfo"
	"github.com/samcharles93/mmrunner/internal/tokenizer"
	"github.com/samcharles93/mmrunner/internal/toy"
)

// setupLogger builds the logger selected by the logging flags and stores it
// in ctx.
func setupLogger(ctx context.Context, w io.Writer) (context.Context, logger.Logger) {
	level := logLevel
	if debug {
		level = "debug"
	}
	log := logger.Setup(w, level, logFormat)
	return logger.WithContext(ctx, log), log
}

func loadTokenizer() (tokenizer.Tokenizer, string, error) {
	switch {
	case vocabPath != "" && bpeEncoding != "":
		return nil, "", fmt.Errorf("--vocab and --bpe-encoding are mutually exclusive")
	case vocabPath != "":
		v, err := tokenizer.LoadVocab(vocabPath)
		if err != nil {
			return nil, "", fmt.Errorf("load vocab: %w", err)
		}
		return v, vocabPath, nil
	case bpeEncoding != "":
		b, err := tokenizer.NewBPE(bpeEncoding)
		if err != nil {
			return nil, "", err
		}
		return b, "tiktoken:" + b.Name(), nil
	default:
		return tokenizer.DefaultVocab(), "built-in", nil
	}
}

// buildRunner wires a tokenizer, the toy model and the decode collaborators
// into a Runner. The model is loaded lazily on first use.
func buildRunner(log logger.Logger, opts ...runner.Option) (*runner.Runner, error) {
	tok, source, err := loadTokenizer()
	if err != nil {
		return nil, err
	}

	cfg := toy.DefaultConfig(tok.VocabSize())
	cfg.MaxContext = int(maxContext)
	model, err := toy.NewToyLM(cfg)
	if err != nil {
		return nil, err
	}

	s := seed
	if s == -1 {
		s = time.Now().UnixNano()
	}
	sampler := logits.NewSampler(logits.SamplerConfig{
		Seed:        uint64(s),
		Temperature: float32(temperature),
		TopK:        int(topK),
		TopP:        float32(topP),
	})

	log.Debug("runner configured",
		"tokenizer", source,
		"vocab_size", tok.VocabSize(),
		"max_context", cfg.MaxContext,
		"seed", s,
	)

	meta := decode.Metadata(model, tok.BOSID(), tok.EOSIDs(), tok.VocabSize())
	base := []runner.Option{
		runner.WithLogger(log),
		runner.WithStdout(os.Stdout),
		runner.WithMemoryProbe(sysinfo.RSS{}),
	}
	return runner.New(meta, tok,
		decode.NewPrefiller(model, tok, log),
		decode.NewGenerator(model, tok, sampler, log),
		append(base, opts...)...,
	)
}

func generationConfig() runner.GenerationConfig {
	cfg := runner.DefaultGenerationConfig()
	cfg.MaxNewTokens = int(maxNewTokens)
	cfg.SeqLen = int(seqLen)
	cfg.Temperature = float32(temperature)
	cfg.NumBOS = int(numBOS)
	cfg.NumEOS = int(numEOS)
	cfg.Echo = echoPrompt
	cfg.IgnoreEOS = ignoreEOS
	return cfg
}

func printStats(w io.Writer, st runner.Stats) {
	_, _ = fmt.Fprintf(w, "prompt: %d tokens in %s (%.2f tok/s)\n",
		st.NumPromptTokens, st.PromptEvalTime(), st.PromptTokensPerSecond())
	_, _ = fmt.Fprintf(w, "generated: %d tokens in %s (%.2f tok/s), first token after %s\n",
		st.NumGeneratedTokens, st.DecodeTime(), st.DecodeTokensPerSecond(), st.TimeToFirstToken())
}
