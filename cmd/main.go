package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	v1 "github.com/tealfox/offliner/api/v1"
	"github.com/tealfox/offliner/internal/actionstore"
	"github.com/tealfox/offliner/internal/downloader"
	"github.com/tealfox/offliner/internal/downloader/httpdl"
	"github.com/tealfox/offliner/internal/manager"
	"github.com/tealfox/offliner/internal/metrics"
	"github.com/tealfox/offliner/internal/requirements"
	"github.com/tealfox/offliner/internal/router"
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(l *slog.Logger, k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.Warn("invalid integer in environment, using default", "key", k, "value", v, "default", def)
		return def
	}
	return n
}

func newLogger() *slog.Logger {
	var w io.Writer = os.Stdout
	if path := os.Getenv("OFFLINER_LOG_FILE"); path != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		})
	}
	return slog.New(slog.NewTextHandler(w, nil))
}

func newStore(l *slog.Logger) actionstore.Store {
	switch getenv("OFFLINER_STORE", "file") {
	case "postgres":
		store, err := actionstore.NewPostgresStoreFromEnv()
		if err != nil {
			l.Error("connect postgres action store", "err", err)
			os.Exit(1)
		}
		l.Info("using postgres action store")
		return store
	default:
		path := getenv("OFFLINER_ACTION_FILE", "offliner-actions.json")
		l.Info("using file action store", "path", path)
		return actionstore.NewFileStore(path)
	}
}

func newFactory(l *slog.Logger) downloader.Factory {
	switch getenv("OFFLINER_DOWNLOADER", "http") {
	case "noop":
		return downloader.NewNoopFactory(l)
	default:
		dir := getenv("OFFLINER_DOWNLOAD_DIR", "downloads")
		policy := httpdl.ParseCollisionPolicy(getenv("OFFLINER_ON_COLLISION", "error"))
		return httpdl.NewFactory(dir, &http.Client{Timeout: 0}, policy, l)
	}
}

func main() {
	l := newLogger()
	metrics.Register()

	reqs := requirements.Default
	if s := os.Getenv("OFFLINER_REQUIREMENTS"); s != "" {
		reqs = requirements.Requirements{Required: requirements.ParseFlags(s)}
	}

	m := manager.New(newStore(l), newFactory(l), manager.Config{
		MaxSimultaneousDownloads: getenvInt(l, "OFFLINER_MAX_SIMULTANEOUS", manager.DefaultMaxSimultaneousDownloads),
		MinRetryCount:            getenvInt(l, "OFFLINER_MIN_RETRY", manager.DefaultMinRetryCount),
		Requirements:             reqs,
		Logger:                   l,
	})

	hub := v1.NewEventHub(l)
	m.AddListener(hub)

	server := &http.Server{
		Addr:         getenv("OFFLINER_ADDR", ":9090"),
		Handler:      router.New(l, m, hub),
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // downloads stream events indefinitely
	}

	go func() {
		l.Info("starting offliner API", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	l.Info("received terminate, graceful shutdown", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		l.Error("server shutdown", "err", err)
	}

	m.Release()
}
