// Command taskhost runs the task engine as a standalone process: it wires
// up the engine, mounts its HTTP/SSE surface, and owns the one engine
// instance it builds with taskengine.New for the lifetime of the host.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"taskengine/internal/httpapi"
	"taskengine/internal/taskengine"
	logx "taskengine/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./taskhost.yaml", "path to host config (YAML or JSON)")
	flag.Parse()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	logSvc, log := logx.New(cfg.Logging)
	defer logSvc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine := taskengine.New(log, taskengine.Config{
		GracePeriod:       cfg.gracePeriod(),
		MaxSucceededTasks: cfg.Engine.MaxSucceededTasks,
		ExtraSemaphores:   cfg.Engine.ExtraSemaphores,
	})
	engine.Start()

	mux := http.NewServeMux()
	httpapi.NewServer(engine, log).Mount(mux, cfg.HTTP.Prefix)

	srv := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: mux,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("taskhost listening", logx.String("addr", cfg.HTTP.Address), logx.String("prefix", cfg.HTTP.Prefix))
		serveErr <- srv.ListenAndServe()
	}()

	if ok, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil && ok {
		log.Warn("systemd notify failed", logx.Err(notifyErr))
	}

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server exited", logx.Err(err))
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.gracePeriod()+5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown error", logx.Err(err))
	}
	if err := engine.Stop(shutdownCtx); err != nil {
		log.Warn("engine shutdown error", logx.Err(err))
	}
}
