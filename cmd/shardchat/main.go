package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shardchat/internal/version"
)

func main() {
	app := &cli.Command{
		Name:           "shardchat",
		Usage:          "Run chat inference over shard-partitioned transformer models",
		Version:        version.String(),
		DefaultCommand: "chat",
		Commands: []*cli.Command{
			chatCmd(),
			serveCmd(),
			inspectCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
