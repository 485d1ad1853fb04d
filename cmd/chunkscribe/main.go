package main

import (
	"os"

	"github.com/eternnoir/chunkscribe/cmd/chunkscribe/cmd"
	"github.com/eternnoir/chunkscribe/pkg/logger"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logger.Get().Error().Err(err).Msg("Application execution failed")
		os.Exit(cmd.ExitCode(err))
	}
}
