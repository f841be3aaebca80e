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

	"github.com/gin-gonic/gin"

	"github.com/cyb3rh3ad/auradesk/internal/config"
	"github.com/cyb3rh3ad/auradesk/internal/server/auth"
	"github.com/cyb3rh3ad/auradesk/internal/server/httpapi"
	"github.com/cyb3rh3ad/auradesk/internal/server/hub"
	"github.com/cyb3rh3ad/auradesk/internal/server/store"
	"github.com/cyb3rh3ad/auradesk/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "directory containing auradesk.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback := logger.NewConsole("info", "auradeskd")
		fallback.Fatal().Err(err).Msg("load config")
	}

	log := logger.New(os.Stderr, cfg.Log.Level, "auradeskd")
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info().Str("path", cfg.Server.DBPath).Msg("opening database")
	db, err := store.Open(cfg.Server.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	authMgr, err := auth.NewManager(cfg.Server.JWTSecret, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("init auth")
	}

	h := hub.New(logger.New(os.Stderr, cfg.Log.Level, "hub"))
	api := httpapi.New(db, authMgr, h, logger.New(os.Stderr, cfg.Log.Level, "api"))

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("serve")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
