package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shardchat/internal/logger"
	"github.com/samcharles93/shardchat/internal/metadata"
)

// inspectReport is the --json output of inspect.
type inspectReport struct {
	Name     string            `json:"name"`
	Backend  string            `json:"backend"`
	Metadata metadata.Metadata `json:"metadata"`
	Embed    string            `json:"embeddings"`
	LMHead   string            `json:"lm_head"`
	Chunks   []chunkReport     `json:"chunks"`
	Embedded map[string]string `json:"embedded,omitempty"`
}

type chunkReport struct {
	Kind    string `json:"kind"`
	Infer   string `json:"infer"`
	Prefill string `json:"prefill,omitempty"`
	Present bool   `json:"present"`
}

func inspectCmd() *cli.Command {
	var asJSON bool
	flags := append(commonModelFlags(), metadataFlags()...)
	flags = append(flags, &cli.BoolFlag{
		Name:        "json",
		Usage:       "print the report as JSON",
		Destination: &asJSON,
	})
	flags = append(flags, loggingFlags()...)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Show the resolved metadata and shard layout without loading the model",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			userCfg, err := LoadConfig(configPath())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: read %s: %v", configPath(), err), 1)
			}
			applyCommonConfig(c, userCfg)
			log, err := newLogger(false)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			ctx = logger.WithContext(ctx, log)

			l, err := resolveLayout(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			report, err := buildReport(l)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(os.Stdout, report)
			return nil
		},
	}
}

func buildReport(l *layout) (inspectReport, error) {
	r := inspectReport{
		Name:     l.name,
		Backend:  l.backend.Name(),
		Metadata: l.meta,
		Embed:    l.paths.Embed,
		LMHead:   l.paths.LMHead,
		Embedded: l.embedded,
	}
	if l.paths.FFN == "" {
		return r, nil
	}
	chunks, err := l.paths.ChunkPaths(l.meta.NumChunks)
	if err != nil {
		return r, err
	}
	for _, ch := range chunks {
		kind := "single"
		if ch.Prefill != "" {
			kind = "split"
		}
		_, statErr := os.Stat(ch.Infer)
		r.Chunks = append(r.Chunks, chunkReport{Kind: kind, Infer: ch.Infer, Prefill: ch.Prefill, Present: statErr == nil})
	}
	return r, nil
}

func printReport(w io.Writer, r inspectReport) {
	fmt.Fprintf(w, "model:       %s\n", r.Name)
	fmt.Fprintf(w, "backend:     %s\n", r.Backend)
	fmt.Fprintf(w, "metadata:    %s\n", r.Metadata)
	fmt.Fprintf(w, "embeddings:  %s\n", r.Embed)
	for i, ch := range r.Chunks {
		status := ""
		if !ch.Present {
			status = " (missing)"
		}
		fmt.Fprintf(w, "chunk %2d:    %s [%s]%s\n", i+1, ch.Infer, ch.Kind, status)
		if ch.Prefill != "" {
			fmt.Fprintf(w, "  prefill:   %s\n", ch.Prefill)
		}
	}
	fmt.Fprintf(w, "lm_head:     %s\n", r.LMHead)
	if len(r.Embedded) == 0 {
		return
	}
	keys := make([]string, 0, len(r.Embedded))
	for k := range r.Embedded {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	fmt.Fprintln(w, "embedded metadata:")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", k, r.Embedded[k])
	}
}
