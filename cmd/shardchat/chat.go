package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shardchat/internal/logger"
	"github.com/samcharles93/shardchat/internal/logits"
	"github.com/samcharles93/shardchat/internal/reasoning"
	"github.com/samcharles93/shardchat/internal/session"
	"github.com/samcharles93/shardchat/internal/shard"
	"github.com/samcharles93/shardchat/internal/tokenizer"
)

type chatOptions struct {
	prompt      string
	system      string
	save        string
	transcript  string
	maxTokens   int64
	temperature float64
	seed        int64
	noTemplate  bool
	manual      bool
	noHistory   bool
	eval        bool
	noWarmup    bool
	delimiter   string
}

func generationFlags(opts *chatOptions) []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "max-tokens",
			Aliases:     []string{"n"},
			Usage:       "maximum tokens per response (0 = until end of context)",
			Destination: &opts.maxTokens,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"temp", "t"},
			Usage:       "sampling temperature (0 = greedy)",
			Destination: &opts.temperature,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling seed (0 = time based)",
			Destination: &opts.seed,
		},
		&cli.StringFlag{
			Name:        "think-delimiter",
			Usage:       "text that ends the model's reasoning",
			Value:       reasoning.DefaultDelimiter,
			Destination: &opts.delimiter,
		},
		&cli.BoolFlag{
			Name:        "no-warmup",
			Usage:       "skip the silent warm-up turn at startup",
			Destination: &opts.noWarmup,
		},
	}
}

func chatCmd() *cli.Command {
	var opts chatOptions
	flags := append(commonModelFlags(), metadataFlags()...)
	flags = append(flags, generationFlags(&opts)...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "run one turn with this prompt and exit",
			Destination: &opts.prompt,
		},
		&cli.StringFlag{
			Name:        "system",
			Aliases:     []string{"sys"},
			Usage:       "system prompt",
			Destination: &opts.system,
		},
		&cli.StringFlag{
			Name:        "save",
			Usage:       "write each response to this file",
			Destination: &opts.save,
		},
		&cli.StringFlag{
			Name:        "transcript",
			Usage:       "write a JSON transcript of the conversation to this file",
			Destination: &opts.transcript,
		},
		&cli.BoolFlag{
			Name:        "no-template",
			Usage:       "send the prompt without any chat formatting",
			Destination: &opts.noTemplate,
		},
		&cli.BoolFlag{
			Name:        "manual-template",
			Usage:       "use the plain \"Role: text\" template even if the tokenizer has one",
			Destination: &opts.manual,
		},
		&cli.BoolFlag{
			Name:        "no-history",
			Usage:       "do not carry earlier turns into the prompt",
			Destination: &opts.noHistory,
		},
		&cli.BoolFlag{
			Name:        "eval",
			Usage:       "print only the response text (no logs, no statistics)",
			Destination: &opts.eval,
		},
	)
	flags = append(flags, loggingFlags()...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Chat with a sharded model (interactive, or one-shot with --prompt)",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			return runChat(ctx, c, &opts)
		},
	}
}

func runChat(ctx context.Context, c *cli.Command, opts *chatOptions) error {
	userCfg, err := LoadConfig(configPath())
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: read %s: %v", configPath(), err), 1)
	}
	applyCommonConfig(c, userCfg)
	applyChatConfig(c, userCfg, opts)

	log, err := newLogger(opts.eval)
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	ctx = logger.WithContext(ctx, log)

	m, err := loadModel(ctx)
	if err != nil {
		return startupError(log, err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("close model", "error", err)
		}
	}()

	format := session.FormatAuto
	switch {
	case opts.noTemplate:
		format = session.FormatRaw
	case opts.manual:
		format = session.FormatManual
	}
	sess, err := session.New(session.Config{
		Set:            m.set,
		Meta:           m.meta,
		Tokenizer:      m.tok,
		Sampler:        newSampler(opts.temperature, opts.seed),
		Format:         format,
		System:         opts.system,
		MaxTokens:      int(opts.maxTokens),
		Delimiter:      opts.delimiter,
		Color:          !opts.eval && useColor(os.Stdout),
		NoHistory:      opts.noHistory,
		Out:            os.Stdout,
		Diag:           os.Stderr,
		Log:            log,
		Eval:           opts.eval,
		SavePath:       opts.save,
		TranscriptPath: opts.transcript,
		ModelName:      m.name,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	defer sess.Close()

	if !opts.noWarmup {
		if err := sess.Warmup(ctx); err != nil {
			log.Warn("warmup failed", "error", err)
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	if opts.prompt == "" && !opts.eval {
		fmt.Fprintln(os.Stderr, "type a message, /reset to clear history, /exit or Ctrl-D to quit")
	}
	err = sess.Run(ctx, session.LoopOptions{
		AutoPrompt: opts.prompt,
		In:         os.Stdin,
		Interrupts: sigs,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	return nil
}

func newLogger(quiet bool) (logger.Logger, error) {
	if quiet {
		return logger.Discard(), nil
	}
	level := logLevel
	if debug {
		level = "debug"
	}
	return logger.Setup(os.Stderr, logFormat, level, useColor(os.Stderr))
}

func useColor(f *os.File) bool {
	return os.Getenv("NO_COLOR") == "" && isTerminal(f)
}

func newSampler(temperature float64, seed int64) *logits.Sampler {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return logits.NewSampler(logits.SamplerConfig{Seed: seed, Temperature: float32(temperature)})
}

// startupError reports a fatal load failure. Load errors carry their own
// remediation hints.
func startupError(log logger.Logger, err error) error {
	var loadErr *shard.ModelLoadError
	var tokErr *tokenizer.InitError
	switch {
	case errors.As(err, &loadErr):
		log.Error("model load failed", "stage", loadErr.Stage, "path", loadErr.Path, "hint", loadErr.Hint)
	case errors.As(err, &tokErr):
		log.Error("tokenizer load failed", "path", tokErr.Path, "hint", tokErr.Hint)
	}
	return cli.Exit(fmt.Sprintf("error: %v", err), 1)
}
