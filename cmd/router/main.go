// Command router is the entrypoint: load configuration, build the
// logger and DB pool, assemble the executor pool and shard table, then
// serve until SIGINT/SIGTERM (spec.md §6 "Exit codes"). Grounded on the
// teacher's main.go (flag parsing, zerolog setup, signal.Notify
// shutdown loop).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheRockettek/quicrouter/config"
	"github.com/TheRockettek/quicrouter/dbpool"
	"github.com/TheRockettek/quicrouter/executor"
	"github.com/TheRockettek/quicrouter/logging"
	"github.com/TheRockettek/quicrouter/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.ini", "path to the INI configuration file")
	flag.Parse()

	log, err := logging.New(logging.Options{
		Dir: "logs",
		Console: logging.LevelToggles{
			Debug:   false,
			Info:    true,
			Warning: true,
			Error:   true,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "router: logger init failed: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("router: config load failed")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := dbpool.Open(ctx, cfg.DSN(), 8, log)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("router: db pool init failed")
		return 1
	}
	defer db.Close()

	pool := executor.New(cfg.RouterShardCount)
	srv := server.New(cfg, log, pool, db)

	if err := srv.Listen(); err != nil {
		log.Error().Err(err).Msg("router: listener init failed")
		return 1
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Int("shards", pool.Size()).Msg("router: serving")
	srv.Run(runCtx)
	log.Info().Msg("router: clean shutdown")
	return 0
}
