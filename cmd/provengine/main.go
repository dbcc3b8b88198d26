package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/openfroyo/provengine/cmd/provengine/commands"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Set with -ldflags "-X main.version=..." at release time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// An interrupt cancels the running transaction, which is then left as is.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Execute(ctx, version, commit, buildDate)
	stop()

	if err != nil {
		log.Error().Err(err).Msg("provengine failed")
		os.Exit(commands.ExitCode(err))
	}
}
