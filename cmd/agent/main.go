package main

import (
	"context"
	goflag "flag"
	"time"

	"github.com/savehub/savehub/pkg/agent"
	"github.com/savehub/savehub/pkg/config"
	"github.com/savehub/savehub/pkg/logger"
	"github.com/savehub/savehub/pkg/os"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf := config.NewAgentConfig()
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	conf.ParseFlags()

	log := logger.NewConsole(conf.Agent.Debug, "a", false)

	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	// one agent per machine, the emulator has one owner
	lock, err := os.NewFileLock(conf.Agent.LockFile)
	if err != nil {
		log.Fatal().Err(err).Msg("couldn't create the instance lock")
	}
	if ok, err := lock.TryLock(); err != nil || !ok {
		log.Fatal().Err(err).Msg("another agent instance is already running")
	}
	defer func() { _ = lock.Unlock() }()

	a, err := agent.New(conf, log, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("couldn't start the agent")
	}
	a.Run()

	<-os.ExpectTermination()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("service shutdown errors")
	}
}
