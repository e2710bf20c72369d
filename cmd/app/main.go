package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/docvault/internal/catalog"
	cfgpkg "github.com/local/docvault/internal/config"
	"github.com/local/docvault/internal/filetype"
	"github.com/local/docvault/internal/importer"
	logpkg "github.com/local/docvault/internal/logger"
	"github.com/local/docvault/internal/manager"
	"github.com/local/docvault/internal/metrics"
	"github.com/local/docvault/internal/pdfgen"
	"github.com/local/docvault/internal/web"
)

func main() {
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	// Init logging
	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	metrics.Init()

	store, err := catalog.NewStore(cfg.Storage.CatalogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open catalog")
	}
	defer store.Close()

	eng, err := pdfgen.New(pdfgen.Options{
		Dir:          cfg.Storage.Dir,
		ThumbMaxSide: cfg.Storage.ThumbMaxSide,
		JPEGQuality:  cfg.Storage.JPEGQuality,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init document storage")
	}

	pipe := importer.New(filetype.New(), eng, importer.Options{
		Concurrency:  cfg.Worker.Concurrency,
		ImageMaxSide: cfg.Storage.ImageMaxSide,
	})

	mgr := manager.New(store, eng, pipe, manager.Options{
		Concurrency:  cfg.Worker.Concurrency,
		ThumbMaxSide: cfg.Storage.ThumbMaxSide,
	})

	mux := http.NewServeMux()
	web.New(web.Dependencies{Manager: mgr, Engine: eng}).RegisterRoutes(mux)
	mux.Handle("/metrics", metrics.Handler())

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{Addr: ":" + port, Handler: mux}

	go func() {
		log.Info().Msgf("HTTP server listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("shutdown complete")
}
