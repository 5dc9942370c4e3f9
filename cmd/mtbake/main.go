// mtbake bakes scene descriptions into a megatexture pack.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/megatex/internal/bake"
	"github.com/Faultbox/megatex/internal/logger"
)

func main() {
	output := flag.String("o", "level.mtpk", "Output pack path")
	workers := flag.Int("workers", 0, "Layers scaled in parallel (0 = one per CPU)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	logFile := flag.String("log", "", "Also write logs to this file")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	level := "info"
	if *debug {
		level = "debug"
	}
	if err := logger.Init(level, *logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	scenes := make([]*bake.Scene, 0, flag.NArg())
	for _, path := range flag.Args() {
		scene, err := bake.LoadScene(path)
		if err != nil {
			logger.Error("loading scene", zap.String("path", path), zap.Error(err))
			os.Exit(1)
		}
		scenes = append(scenes, scene)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	baker := bake.NewBaker(*workers, logger.Named("bake"))
	if err := baker.Bake(ctx, scenes, *output); err != nil {
		logger.Error("bake failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("pack written",
		zap.String("path", *output),
		zap.Int("levels", len(scenes)),
		zap.Duration("elapsed", time.Since(start)))
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `mtbake - bake scenes into a megatexture pack

Usage:
  mtbake [options] <scene.yaml>...

Options:
  -o <path>        Output pack (default level.mtpk)
  -workers <n>     Layers scaled in parallel (0 = one per CPU)
  -debug           Enable debug logging
  -log <path>      Also write logs to this file

Example:
  mtbake -o castle.mtpk scenes/hall.yaml scenes/tower.yaml`)
}
