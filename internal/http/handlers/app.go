package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79"

	"viralfaces/internal/domain"
	"viralfaces/internal/templates"
)

// Pipeline runs one generation request.
type Pipeline interface {
	Run(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error)
}

// ResultReader loads persisted results.
type ResultReader interface {
	GetForUser(ctx context.Context, resultID, userID string) (*domain.ResultRecord, error)
}

// Linker issues read links for stored objects.
type Linker interface {
	SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	Presign(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// LinkVerifier checks links minted for the download endpoint.
type LinkVerifier interface {
	Verify(bucket, key, expires, signature string) error
}

// Replayer caches successful generation results per idempotency key.
type Replayer interface {
	Lookup(ctx context.Context, key string, req domain.GenerationRequest) (*domain.GenerationResult, bool, error)
	Save(ctx context.Context, key string, req domain.GenerationRequest, res *domain.GenerationResult) error
}

// WebhookListener verifies and dispatches payment events.
type WebhookListener interface {
	Verify(payload []byte, header string) (stripe.Event, error)
	Handle(ctx context.Context, event stripe.Event) error
}

// TemplateCatalog lists the available templates.
type TemplateCatalog interface {
	Templates() []templates.Template
	Resolve(id string) (string, error)
}

// App holds the collaborators shared by the HTTP handlers. Results, Links,
// Downloads and Idempotency are optional.
type App struct {
	Pipeline    Pipeline
	Templates   TemplateCatalog
	Results     ResultReader
	Links       Linker
	Downloads   LinkVerifier
	Idempotency Replayer
	Webhook     WebhookListener

	ResultsBucket string
	SignedURLTTL  time.Duration
	DownloadTTL   time.Duration
	MaxBodyBytes  int64

	Logger zerolog.Logger
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, errorBody{Error: kind, Message: message})
}

func (a *App) errorDetails(w http.ResponseWriter, code int, kind, message, details string) {
	a.json(w, code, errorBody{Error: kind, Message: message, Details: details})
}

func (a *App) bodyLimit() int64 {
	if a.MaxBodyBytes > 0 {
		return a.MaxBodyBytes
	}
	return 64 << 10
}
