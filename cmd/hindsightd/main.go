// Command hindsightd runs the hindsight recall service: it wires
// configuration, logging, telemetry, the store adapter, the embedding and
// cross-encoder clients, and the HTTP surface.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vanvuongngo/hindsight/internal/config"
	"github.com/vanvuongngo/hindsight/internal/crossencoder"
	"github.com/vanvuongngo/hindsight/internal/embedder"
	"github.com/vanvuongngo/hindsight/internal/engine"
	"github.com/vanvuongngo/hindsight/internal/httpapi"
	"github.com/vanvuongngo/hindsight/internal/observability"
	"github.com/vanvuongngo/hindsight/internal/store"
	"github.com/vanvuongngo/hindsight/internal/tracesink"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := observability.Setup(cfg.Observability); err != nil {
		log.Fatal().Err(err).Msg("setup logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, cfg.Observability)
	if err != nil {
		log.Fatal().Err(err).Msg("init otel")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	st, err := store.NewFromConfig(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	emb, err := buildEmbedder(cfg.Embeddings)
	if err != nil {
		log.Fatal().Err(err).Msg("build embedder")
	}

	queue := crossencoder.NewQueue(
		crossencoder.NewHTTP(cfg.Reranker),
		cfg.Reranker.MaxConcurrency,
		cfg.Reranker.QueueThreshold,
	)

	eng := engine.New(st, emb, queue,
		engine.WithQueue(queue),
		engine.WithTemporalFallback(engine.TemporalFallback(cfg.Engine.TemporalFallback)),
	)

	sink, err := tracesink.New(cfg.Trace)
	if err != nil {
		log.Fatal().Err(err).Msg("open trace sink")
	}
	defer sink.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           otelhttp.NewHandler(httpapi.NewServer(eng, sink), "hindsightd"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("hindsightd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
}

func buildEmbedder(cfg config.EmbedConfig) (embedder.Embedder, error) {
	var emb embedder.Embedder
	if cfg.BaseURL == "" && cfg.APIKey == "" {
		// No endpoint configured; deterministic embeddings keep development
		// and CI runs self-contained.
		emb = embedder.NewDeterministic(cfg.Dimensions, 0)
	} else {
		emb = embedder.NewOpenAI(cfg)
	}
	emb = embedder.WithCache(emb)
	return embedder.WithRedisCache(emb, cfg.Redis)
}
