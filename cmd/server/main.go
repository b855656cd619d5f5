package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/api"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/app"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/config"
)

func main() {
	configFile := flag.String("config", "", "Optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	cfg.ConfigureLogging()

	application, err := app.New(cfg)
	if err != nil {
		logrus.Fatalf("create app: %v", err)
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close database")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go application.RunPurger(ctx, cfg.CachePurgeInterval)

	server, err := api.NewServer(application)
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}
	defer server.Close()

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("shutdown server")
		}
	}()

	logrus.Infof("starting terms analysis backend on :%s", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.Fatalf("server exited: %v", err)
	}
}
