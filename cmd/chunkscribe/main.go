package main

import (
	"os"

	"github.com/eternnoir/chunkscribe/cmd/chunkscribe/cmd"
	"github.com/eternnoir/chunkscribe/pkg/logger"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("Application execution failed")
		os.Exit(1)
	}
}
