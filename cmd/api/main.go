package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/stripe/stripe-go/v79"

	"viralfaces/internal/adapter/repo"
	"viralfaces/internal/faceimage"
	"viralfaces/internal/generation"
	"viralfaces/internal/http/handlers"
	httpapi "viralfaces/internal/http/httpapi"
	"viralfaces/internal/idempotency"
	"viralfaces/internal/infra"
	"viralfaces/internal/payments"
	"viralfaces/internal/providers/faceswap"
	"viralfaces/internal/storage"
	"viralfaces/internal/templates"
)

func main() {
	// Optional .env
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	stripe.Key = cfg.StripeSecretKey

	ctx := context.Background()

	signer, err := storage.NewSigner(cfg.SigningSecret, cfg.PublicBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid signing configuration")
	}
	store, err := storage.NewObjectStore(storage.Options{
		Endpoint:  cfg.StorageEndpoint,
		Region:    cfg.StorageRegion,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
		UseSSL:    cfg.StorageUseSSL,
		PublicURL: cfg.StoragePublicURL,
		Signer:    signer,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure object storage")
	}
	for _, bucket := range []string{cfg.FacesBucket, cfg.ResultsBucket} {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		ok, err := store.BucketExists(checkCtx, bucket)
		cancel()
		switch {
		case err != nil:
			logger.Warn().Err(err).Str("bucket", bucket).Msg("bucket check failed")
		case !ok:
			logger.Warn().Str("bucket", bucket).Msg("bucket missing; generation requests will fail with 503")
		}
	}

	// Optional result history
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	var results *repo.ResultRepositoryPG
	if dbpool != nil {
		defer dbpool.Close()
		results = repo.NewResultRepository(infra.NewSQLRunner(dbpool, logger))
	} else {
		logger.Info().Msg("DATABASE_URL not set; result history disabled")
	}

	// Optional idempotent replay
	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	catalog := templates.LoadFromEnv()
	for _, id := range catalog.IDs() {
		if _, err := catalog.Resolve(id); err != nil {
			logger.Warn().Str("template_id", id).Str("env", templates.EnvVar(id)).Msg("template not configured")
		}
	}

	inference, err := faceswap.NewClient(faceswap.Options{
		APIToken:     cfg.ReplicateAPIToken,
		BaseURL:      cfg.ReplicateBaseURL,
		ModelVersion: cfg.FaceSwapModelVersion,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure inference client")
	}

	deps := generation.Deps{
		Store:      store,
		Catalog:    catalog,
		Inference:  inference,
		Fetcher:    generation.NewHTTPFetcher(nil),
		Normalizer: faceimage.NewNormalizer(cfg.FaceMaxDimension),
		Logger:     logger.With().Str("component", "generation").Logger(),
	}
	if results != nil {
		deps.Recorder = results
	}
	pipeline, err := generation.NewPipeline(generation.Config{
		FacesBucket:            cfg.FacesBucket,
		ResultsBucket:          cfg.ResultsBucket,
		SignedURLTTL:           cfg.SignedURLTTL,
		CheckTemplateReachable: cfg.TemplateCheckReachable,
		TemplateCheckTimeout:   cfg.TemplateCheckTimeout,
		InferenceTimeout:       cfg.InferenceTimeout,
		FetchTimeout:           cfg.ResultFetchTimeout,
	}, deps)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build generation pipeline")
	}

	var hook payments.CheckoutHook = payments.LogHook{Logger: logger}
	if cfg.PaymentsMarkPaid {
		if results == nil {
			logger.Fatal().Msg("PAYMENTS_MARK_PAID requires DATABASE_URL")
		}
		hook = payments.MarkPaidHook{Results: results, Logger: logger}
	}

	app := &handlers.App{
		Pipeline:      pipeline,
		Templates:     catalog,
		Links:         store,
		Downloads:     signer,
		Webhook:       payments.NewListener(cfg.StripeWebhookSecret, hook, logger),
		ResultsBucket: cfg.ResultsBucket,
		SignedURLTTL:  cfg.SignedURLTTL,
		Logger:        logger,
	}
	if results != nil {
		app.Results = results
	}
	if rdb != nil {
		defer rdb.Close()
		app.Idempotency = idempotency.NewStore(rdb, cfg.IdempotencyTTL, logger)
	}

	router := httpapi.NewRouter(app, logger, httpapi.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		GenerateLimit:  cfg.RateLimitPerMin,
	})

	server := infra.NewHTTPServer(cfg, router, logger)

	go func() {
		logger.Info().Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
