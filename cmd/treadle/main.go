package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"treadle.sh/core/log"
	"treadle.sh/core/treadle"
)

func main() {
	cmd := &cli.Command{
		Name:  "treadle",
		Usage: "a small CI runner",
		Commands: []*cli.Command{
			treadle.Command(),
			execCommand(),
		},
	}

	ctx := context.Background()
	logger := log.New("treadle")
	ctx = log.IntoContext(ctx, logger)

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
}
