package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mmrunner/internal/toy"
)

var (
	vocabPath   string
	bpeEncoding string
	maxContext  int64
	imageSize   int64
	seed        int64

	maxNewTokens int64
	seqLen       int64
	temperature  float64
	topK         int64
	topP         float64
	numBOS       int64
	numEOS       int64
	echoPrompt   bool
	ignoreEOS    bool

	logLevel  string
	logFormat string
	debug     bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "vocab",
			Usage:       "path to a JSON vocabulary (default: built-in byte vocabulary)",
			Destination: &vocabPath,
		},
		&cli.StringFlag{
			Name:        "bpe-encoding",
			Aliases:     []string{"bpe"},
			Usage:       "use a tiktoken encoding instead of a vocabulary (cl100k_base, p50k_base, r50k_base)",
			Destination: &bpeEncoding,
		},
		&cli.Int64Flag{
			Name:        "max-context",
			Aliases:     []string{"max-ctx", "ctx", "c"},
			Usage:       "max context length",
			Value:       int64(toy.DefaultConfig(0).MaxContext),
			Destination: &maxContext,
		},
		&cli.Int64Flag{
			Name:        "image-size",
			Usage:       "scale images so neither side exceeds this many pixels (0 = keep)",
			Value:       448,
			Destination: &imageSize,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling RNG seed (default -1 = random)",
			Value:       -1,
			Destination: &seed,
		},
	}
}

func generationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "max-new-tokens",
			Aliases:     []string{"n"},
			Usage:       "tokens to generate, including the prefill token (-1 = fill the context)",
			Value:       -1,
			Destination: &maxNewTokens,
		},
		&cli.Int64Flag{
			Name:        "seq-len",
			Usage:       "cap on prompt plus generated tokens (-1 = unset)",
			Value:       -1,
			Destination: &seqLen,
		},
		&cli.Float64Flag{
			Name:        "temp",
			Aliases:     []string{"temperature", "t"},
			Usage:       "sampling temperature (0 = greedy)",
			Value:       0.8,
			Destination: &temperature,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Aliases:     []string{"top_k", "topk"},
			Usage:       "top-k sampling parameter (0 = disabled)",
			Value:       40,
			Destination: &topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Aliases:     []string{"top_p", "topp"},
			Usage:       "top_p sampling parameter",
			Value:       0.95,
			Destination: &topP,
		},
		&cli.Int64Flag{
			Name:        "num-bos",
			Usage:       "BOS tokens to prepend when starting from an empty cache",
			Value:       1,
			Destination: &numBOS,
		},
		&cli.Int64Flag{
			Name:        "num-eos",
			Usage:       "EOS tokens to append to the first prompt",
			Destination: &numEOS,
		},
		&cli.BoolFlag{
			Name:        "echo",
			Usage:       "print the prompt before generated text",
			Destination: &echoPrompt,
		},
		&cli.BoolFlag{
			Name:        "ignore-eos",
			Usage:       "keep generating after an end-of-sequence token",
			Destination: &ignoreEOS,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func withFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
