package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shardchat/internal/api"
	"github.com/samcharles93/shardchat/internal/logger"
	"github.com/samcharles93/shardchat/internal/session"
)

func serveCmd() *cli.Command {
	var (
		opts        chatOptions
		addr        string
		readTimeout time.Duration
		rateLimit   float64
		burst       int64
		thinking    bool
	)
	flags := append(commonModelFlags(), metadataFlags()...)
	flags = append(flags, generationFlags(&opts)...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read header timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
		&cli.Float64Flag{
			Name:        "rate-limit",
			Usage:       "completion requests per second (0 = unlimited)",
			Destination: &rateLimit,
		},
		&cli.Int64Flag{
			Name:        "burst",
			Usage:       "rate limiter burst size",
			Value:       4,
			Destination: &burst,
		},
		&cli.BoolFlag{
			Name:        "thinking",
			Usage:       "treat responses as starting inside a reasoning block",
			Destination: &thinking,
		},
	)
	flags = append(flags, loggingFlags()...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve an OpenAI-compatible completions API over one model session",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			userCfg, err := LoadConfig(configPath())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: read %s: %v", configPath(), err), 1)
			}
			applyCommonConfig(c, userCfg)
			applyChatConfig(c, userCfg, &opts)
			applyServeConfig(c, userCfg, &addr, &rateLimit)

			log, err := newLogger(false)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			ctx = logger.WithContext(ctx, log)

			m, err := loadModel(ctx)
			if err != nil {
				return startupError(log, err)
			}
			defer m.Close()

			sess, err := session.New(session.Config{
				Set:       m.set,
				Meta:      m.meta,
				Tokenizer: m.tok,
				Sampler:   newSampler(opts.temperature, opts.seed),
				MaxTokens: int(opts.maxTokens),
				Delimiter: opts.delimiter,
				NoHistory: true,
				Out:       io.Discard,
				Diag:      io.Discard,
				Log:       log.With("component", "session"),
				ModelName: m.name,
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

			server := api.NewServer(sess, api.Options{
				Model:       m.name,
				Delimiter:   opts.delimiter,
				Thinking:    thinking,
				Temperature: float32(opts.temperature),
				RateLimit:   rateLimit,
				Burst:       int(burst),
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr, "model", m.name, "session", sess.ID())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
