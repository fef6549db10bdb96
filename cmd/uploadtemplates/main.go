package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"viralfaces/internal/infra"
	"viralfaces/internal/storage"
	"viralfaces/internal/templates"
)

type storageEnv struct {
	Endpoint  string `envconfig:"STORAGE_ENDPOINT" required:"true"`
	Region    string `envconfig:"STORAGE_REGION" default:"us-east-1"`
	AccessKey string `envconfig:"STORAGE_ACCESS_KEY" required:"true"`
	SecretKey string `envconfig:"STORAGE_SECRET_KEY" required:"true"`
	UseSSL    bool   `envconfig:"STORAGE_USE_SSL" default:"true"`
	PublicURL string `envconfig:"STORAGE_PUBLIC_URL"`
	Bucket    string `envconfig:"TEMPLATES_BUCKET" default:"templates"`
}

func main() {
	_ = godotenv.Load()

	var (
		dirFlag    string
		bucketFlag string
	)
	flag.StringVar(&dirFlag, "dir", "templates", "Directory holding <template-id>.mp4 files")
	flag.StringVar(&bucketFlag, "bucket", "", "Destination bucket (fallbacks to TEMPLATES_BUCKET)")
	flag.Parse()

	var env storageEnv
	if err := envconfig.Process("", &env); err != nil {
		fmt.Fprintf(os.Stderr, "invalid storage configuration: %v\n", err)
		os.Exit(1)
	}
	bucket := env.Bucket
	if bucketFlag != "" {
		bucket = bucketFlag
	}

	logger := infra.NewLogger("cli").With().Str("cmd", "uploadtemplates").Str("bucket", bucket).Logger()
	store, err := storage.NewObjectStore(storage.Options{
		Endpoint:  infra.NormalizeEndpoint(env.Endpoint),
		Region:    env.Region,
		AccessKey: env.AccessKey,
		SecretKey: env.SecretKey,
		UseSSL:    env.UseSSL,
		PublicURL: env.PublicURL,
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure storage: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	ok, err := store.BucketExists(ctx, bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to check bucket: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Fprintf(os.Stderr, "bucket %q does not exist; create it as a public bucket first\n", bucket)
		os.Exit(1)
	}

	uploaded, failed := uploadAll(ctx, store, dirFlag, bucket, os.Stdout, logger)
	logger.Info().Int("uploaded", uploaded).Int("failed", failed).Msg("done")
	if uploaded == 0 {
		fmt.Fprintln(os.Stderr, "no templates uploaded")
		os.Exit(1)
	}
}

type templateStore interface {
	Replace(ctx context.Context, bucket, key string, data []byte, contentType string) error
	PublicURL(bucket, key string) string
}

// uploadAll pushes every <id>.mp4 found in dir and prints one env line per
// uploaded template. Missing files are skipped with a warning.
func uploadAll(ctx context.Context, store templateStore, dir, bucket string, out io.Writer, logger zerolog.Logger) (uploaded, failed int) {
	for _, id := range templates.IDs() {
		path := filepath.Join(dir, id+".mp4")
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn().Err(err).Str("template_id", id).Msg("skipping template")
			failed++
			continue
		}
		key := id + ".mp4"
		if err := store.Replace(ctx, bucket, key, data, "video/mp4"); err != nil {
			logger.Error().Err(err).Str("template_id", id).Msg("upload failed")
			failed++
			continue
		}
		uploaded++
		fmt.Fprintf(out, "%s=%s\n", templates.EnvVar(id), store.PublicURL(bucket, key))
	}
	return uploaded, failed
}
