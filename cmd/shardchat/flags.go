package main

import "github.com/urfave/cli/v3"

var (
	metaPath     string
	modelDir     string
	embedPath    string
	ffnPath      string
	lmHeadPath   string
	tokenizerDir string
	backendName  string
	ortLib       string
	threads      int64

	contextLength int64
	stateLength   int64
	batchSize     int64
	numChunks     int64
	splitLMHead   int64
	lutBits       int64

	logLevel  string
	logFormat string
	debug     bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "meta",
			Usage:       "path to meta.yaml (or the directory holding it)",
			Destination: &metaPath,
		},
		&cli.StringFlag{
			Name:        "dir",
			Aliases:     []string{"d"},
			Usage:       "model directory; shards are discovered by name",
			Destination: &modelDir,
		},
		&cli.StringFlag{
			Name:        "embed",
			Usage:       "embeddings shard",
			Destination: &embedPath,
		},
		&cli.StringFlag{
			Name:        "ffn",
			Usage:       "first FFN chunk shard; other chunks are derived from its name",
			Destination: &ffnPath,
		},
		&cli.StringFlag{
			Name:        "lmhead",
			Aliases:     []string{"lm-head"},
			Usage:       "lm_head shard",
			Destination: &lmHeadPath,
		},
		&cli.StringFlag{
			Name:        "tokenizer",
			Usage:       "directory with tokenizer.json (defaults to the model directory)",
			Destination: &tokenizerDir,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "runtime backend (auto, ort, toy)",
			Value:       "auto",
			Destination: &backendName,
		},
		&cli.StringFlag{
			Name:        "ort-lib",
			Usage:       "path to the ONNX Runtime shared library",
			Sources:     cli.EnvVars("ONNXRUNTIME_LIB"),
			Destination: &ortLib,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Usage:       "runtime intra-op threads (0 = runtime default)",
			Destination: &threads,
		},
	}
}

func metadataFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "context-length",
			Aliases:     []string{"ctx"},
			Usage:       "override context length",
			Destination: &contextLength,
		},
		&cli.Int64Flag{
			Name:        "state-length",
			Usage:       "override state length (defaults to context length)",
			Destination: &stateLength,
		},
		&cli.Int64Flag{
			Name:        "batch-size",
			Aliases:     []string{"batch"},
			Usage:       "override prefill batch size",
			Destination: &batchSize,
		},
		&cli.Int64Flag{
			Name:        "num-chunks",
			Aliases:     []string{"chunks"},
			Usage:       "override number of FFN chunks",
			Destination: &numChunks,
		},
		&cli.Int64Flag{
			Name:        "split-lm-head",
			Aliases:     []string{"num-logits"},
			Usage:       "override number of lm_head output splits",
			Destination: &splitLMHead,
		},
		&cli.Int64Flag{
			Name:        "lut",
			Usage:       "override LUT quantization bits (informational)",
			Destination: &lutBits,
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
