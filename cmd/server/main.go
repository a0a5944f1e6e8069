package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"voxelscene.dev/internal/logging"
	persistlog "voxelscene.dev/internal/persistence/log"
	"voxelscene.dev/internal/sim/tuning"
	"voxelscene.dev/internal/sim/world"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		sceneID    = flag.String("scene", "scene_1", "scene id")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		logFile    = flag.String("log_file", "", "optional rolling log file")
		logLevel   = flag.String("log_level", "info", "log level (debug, info, warn, error)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index")
		disableLog = flag.Bool("disable_tick_log", false, "disable the compressed tick and batch logs")
	)
	flag.Parse()

	logger, err := logging.New(logging.Config{File: *logFile, Level: *logLevel})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("server")

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune := tuning.Defaults()
	if _, err := os.Stat(tp); err == nil {
		tune, err = tuning.Load(tp)
		if err != nil {
			logger.Fatal("load tuning", zap.String("path", tp), zap.Error(err))
		}
	} else {
		logger.Info("tuning file not found, using defaults", zap.String("path", tp))
	}

	cfg := world.ConfigFromTuning(tune)
	cfg.SceneID = *sceneID
	w, err := world.New(cfg, logger.Named("world"))
	if err != nil {
		logger.Fatal("world", zap.Error(err))
	}

	sceneDir := filepath.Join(*dataDir, "scenes", *sceneID)
	if err := os.MkdirAll(sceneDir, 0o755); err != nil {
		logger.Fatal("data dir", zap.String("dir", sceneDir), zap.Error(err))
	}

	idx, err := openRuntimeIndex(sceneDir, *disableDB)
	if err != nil {
		logger.Fatal("index", zap.Error(err))
	}
	if idx != nil {
		defer idx.Close()
	}

	ticks := multiTickLogger{}
	batches := multiBatchSink{}
	if !*disableLog {
		tickLog := persistlog.NewTickLogger(sceneDir)
		batchLog := persistlog.NewBatchLogger(sceneDir)
		defer tickLog.Close()
		defer batchLog.Close()
		ticks = append(ticks, tickLog)
		batches = append(batches, batchLog)
	}
	if idx != nil {
		ticks = append(ticks, idx)
		batches = append(batches, idx)
	}
	if len(ticks) > 0 {
		w.SetTickLogger(ticks)
	}
	if len(batches) > 0 {
		w.SetBatchSink(batches)
	}

	ctx, cancel := signalContext()
	defer cancel()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("world stopped", zap.Error(err))
		}
	}()

	opts := muxOptions{
		EnableAdmin: envBool("VS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		EnablePprof: envBool("VS_ENABLE_PPROF_HTTP", false),
	}
	if !opts.EnableAdmin {
		logger.Info("admin endpoints disabled (VS_ENABLE_ADMIN_HTTP=false)")
	}
	srv := &http.Server{
		Addr:              *addr,
		Handler:           newMux(w, idx, logger, opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening",
		zap.String("addr", *addr),
		zap.String("scene", *sceneID),
		zap.Int("tick_hz", cfg.TickRateHz),
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("ListenAndServe", zap.Error(err))
	}
	// Let the last tick reach the logs before the deferred closes run.
	<-worldDone
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
