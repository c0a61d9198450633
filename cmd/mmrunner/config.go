package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the mmrunner configuration file (~/.config/mmrunner/config.yaml).
// All fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	VocabPath   string `yaml:"vocab_path"`
	BPEEncoding string `yaml:"bpe_encoding"`
	MaxContext  *int64 `yaml:"max_context"`
	ImageSize   *int64 `yaml:"image_size"`
	Seed        *int64 `yaml:"seed"`

	// Generation defaults
	Temperature  *float64 `yaml:"temperature"`
	TopK         *int64   `yaml:"top_k"`
	TopP         *float64 `yaml:"top_p"`
	MaxNewTokens *int64   `yaml:"max_new_tokens"`
	SeqLen       *int64   `yaml:"seq_len"`
	NumBOS       *int64   `yaml:"num_bos"`
	NumEOS       *int64   `yaml:"num_eos"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
	ResultTTL     string `yaml:"result_ttl"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "mmrunner", "config.yaml")
}

// flagSetter reports whether a flag was given on the command line.
type flagSetter interface {
	IsSet(name string) bool
}

var _ flagSetter = (*cli.Command)(nil)

func setInt64(c flagSetter, name string, v *int64, dst *int64) {
	if v != nil && !c.IsSet(name) {
		*dst = *v
	}
}

func setFloat64(c flagSetter, name string, v *float64, dst *float64) {
	if v != nil && !c.IsSet(name) {
		*dst = *v
	}
}

func setString(c flagSetter, name string, v string, dst *string) {
	if v != "" && !c.IsSet(name) {
		*dst = v
	}
}

// applyConfig applies config file defaults to the shared model, generation
// and logging flags when the corresponding CLI flag was not explicitly set.
func applyConfig(c flagSetter, cfg Config) {
	setString(c, "vocab", cfg.VocabPath, &vocabPath)
	setString(c, "bpe-encoding", cfg.BPEEncoding, &bpeEncoding)
	setInt64(c, "max-context", cfg.MaxContext, &maxContext)
	setInt64(c, "image-size", cfg.ImageSize, &imageSize)
	setInt64(c, "seed", cfg.Seed, &seed)

	setFloat64(c, "temp", cfg.Temperature, &temperature)
	setInt64(c, "top-k", cfg.TopK, &topK)
	setFloat64(c, "top-p", cfg.TopP, &topP)
	setInt64(c, "max-new-tokens", cfg.MaxNewTokens, &maxNewTokens)
	setInt64(c, "seq-len", cfg.SeqLen, &seqLen)
	setInt64(c, "num-bos", cfg.NumBOS, &numBOS)
	setInt64(c, "num-eos", cfg.NumEOS, &numEOS)

	setString(c, "log-level", cfg.LogLevel, &logLevel)
	setString(c, "log-format", cfg.LogFormat, &logFormat)
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c flagSetter, cfg Config, addr *string, resultTTL *time.Duration) error {
	setString(c, "addr", cfg.ServerAddress, addr)
	if cfg.ResultTTL != "" && !c.IsSet("result-ttl") {
		d, err := time.ParseDuration(cfg.ResultTTL)
		if err != nil {
			return fmt.Errorf("config result_ttl: %w", err)
		}
		*resultTTL = d
	}
	return nil
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	return loadConfigFile(configPath())
}

func loadConfigFile(path string) Config {
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
