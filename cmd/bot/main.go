package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"voxelscene.dev/internal/client/session"
	"voxelscene.dev/internal/csg"
	"voxelscene.dev/internal/logging"
	"voxelscene.dev/internal/sim/tuning"
	"voxelscene.dev/internal/transport/ws"
)

func main() {
	var (
		url        = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name       = flag.String("name", "bot", "client name")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: built-in defaults)")
		walkFor    = flag.Duration("walk", 2*time.Second, "walk time between edits")
		edits      = flag.Int("edits", 3, "number of block edits before exiting")
		fps        = flag.Int("fps", 60, "client frame rate")
		logLevel   = flag.String("log_level", "debug", "log level")
	)
	flag.Parse()

	logger, err := logging.New(logging.Config{Level: *logLevel})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("bot")

	tune := tuning.Defaults()
	if *tuningPath != "" {
		if tune, err = tuning.Load(*tuningPath); err != nil {
			logger.Fatal("load tuning", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	conn, err := ws.Dial(dialCtx, *url, *name, logger.Named("ws"))
	cancel()
	if err != nil {
		logger.Fatal("dial", zap.String("url", *url), zap.Error(err))
	}
	defer conn.Close()

	input := &walker{}
	sess := session.New(session.ConfigFromTuning(tune), conn, conn.Inbox(), input, nil, logger.Named("session"))
	b := newBot(sess, input, botConfig{
		WalkFor:     *walkFor,
		Edits:       *edits,
		Placeholder: csg.Material(tune.Edit.Placeholder),
	}, logger)

	if err := b.run(ctx, *fps); err != nil && err != context.Canceled {
		logger.Error("bot stopped", zap.Error(err))
		return
	}
	logger.Info("done", zap.Int("edits", b.edits))
}
