package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"viralfaces/internal/domain"
	"viralfaces/internal/providers/faceswap"
	"viralfaces/internal/storage"
	"viralfaces/internal/templates"
)

// ObjectStore is the subset of the storage service the pipeline touches.
type ObjectStore interface {
	Download(ctx context.Context, bucket, key string) ([]byte, error)
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error
	SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Catalog resolves template IDs.
type Catalog interface {
	Has(id string) bool
	IDs() []string
	Resolve(id string) (string, error)
	CheckReachable(ctx context.Context, videoURL string) error
}

// Inference runs the face-swap model and returns its raw output.
type Inference interface {
	Run(ctx context.Context, in faceswap.Input) (any, error)
}

// Fetcher downloads the generated video.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// FaceNormalizer prepares the face image; optional.
type FaceNormalizer interface {
	Normalize(data []byte) ([]byte, string, error)
}

// Recorder persists result records; optional.
type Recorder interface {
	Create(ctx context.Context, record *domain.ResultRecord) error
}

// Config holds the pipeline's static settings.
type Config struct {
	FacesBucket            string
	ResultsBucket          string
	SignedURLTTL           time.Duration
	CheckTemplateReachable bool
	TemplateCheckTimeout   time.Duration
	InferenceTimeout       time.Duration
	FetchTimeout           time.Duration
}

// Deps are the collaborators. Normalizer and Recorder may be nil.
type Deps struct {
	Store      ObjectStore
	Catalog    Catalog
	Inference  Inference
	Fetcher    Fetcher
	Normalizer FaceNormalizer
	Recorder   Recorder
	Logger     zerolog.Logger
}

// Pipeline turns a GenerationRequest into a signed result video. Each Run
// performs at most one call per external step and never retries.
type Pipeline struct {
	cfg   Config
	deps  Deps
	newID func() string
	now   func() time.Time
}

// NewPipeline validates the wiring and applies defaults.
func NewPipeline(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Store == nil || deps.Catalog == nil || deps.Inference == nil || deps.Fetcher == nil {
		return nil, errors.New("generation: store, catalog, inference and fetcher are required")
	}
	if cfg.FacesBucket == "" {
		cfg.FacesBucket = "faces"
	}
	if cfg.ResultsBucket == "" {
		cfg.ResultsBucket = "results"
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 30 * 24 * time.Hour
	}
	return &Pipeline{cfg: cfg, deps: deps, newID: uuid.NewString, now: time.Now}, nil
}

// Validate checks a request without touching any collaborator other than the
// in-memory catalog.
func (p *Pipeline) Validate(req domain.GenerationRequest) *Error {
	var missing []string
	if strings.TrimSpace(req.FacePath) == "" {
		missing = append(missing, "facePath")
	}
	if strings.TrimSpace(req.TemplateID) == "" {
		missing = append(missing, "templateId")
	}
	if strings.TrimSpace(req.UserID) == "" {
		missing = append(missing, "userId")
	}
	if len(missing) > 0 {
		return badRequest(KindMissingField, "Missing required fields: "+strings.Join(missing, ", "), "")
	}
	if !ValidFacePath(req.FacePath) {
		return badRequest(KindInvalidPath, "Invalid facePath",
			"facePath must be a relative key without '..', '//' or a leading '/'")
	}
	if !p.deps.Catalog.Has(req.TemplateID) {
		return badRequest(KindUnknownTemplate, fmt.Sprintf("Unknown templateId %q", req.TemplateID),
			"Valid templateIds: "+strings.Join(p.deps.Catalog.IDs(), ", "))
	}
	return nil
}

// ValidFacePath rejects keys that could escape the caller's storage namespace.
func ValidFacePath(path string) bool {
	return !strings.Contains(path, "..") &&
		!strings.Contains(path, "//") &&
		!strings.HasPrefix(path, "/")
}

// Run executes the pipeline. The returned error is always an *Error.
func (p *Pipeline) Run(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	if verr := p.Validate(req); verr != nil {
		return nil, verr
	}
	resultID := p.newID()
	log := p.deps.Logger.With().
		Str("user_id", req.UserID).
		Str("template_id", req.TemplateID).
		Str("result_id", resultID).
		Logger()
	started := p.now()

	// 1. face
	face, err := p.deps.Store.Download(ctx, p.cfg.FacesBucket, req.FacePath)
	if err != nil {
		if bucketMissing(err) {
			log.Error().Err(err).Msg("faces bucket missing")
			return nil, unavailable(KindStorageUnavailable, "Face storage is not available",
				fmt.Sprintf("Create the %q bucket in object storage", p.cfg.FacesBucket), err)
		}
		log.Warn().Err(err).Str("face_path", req.FacePath).Msg("face download failed")
		return nil, newError(KindFaceNotFound, http.StatusNotFound, "Face image not found", err.Error(), err)
	}
	faceMIME := ""
	if p.deps.Normalizer != nil {
		normalized, mime, err := p.deps.Normalizer.Normalize(face)
		if err != nil {
			log.Warn().Err(err).Msg("face image rejected")
			return nil, newError(KindInvalidFaceImage, http.StatusBadRequest, "Face image could not be decoded", err.Error(), err)
		}
		face, faceMIME = normalized, mime
	}

	// 2. template
	templateURL, err := p.deps.Catalog.Resolve(req.TemplateID)
	if err != nil {
		log.Error().Err(err).Msg("template not configured")
		return nil, unavailable(KindTemplateNotConfigured, "Template video is not configured",
			fmt.Sprintf("Set %s to the template video URL", templates.EnvVar(req.TemplateID)), err)
	}
	if p.cfg.CheckTemplateReachable {
		checkCtx, cancel := withTimeout(ctx, p.cfg.TemplateCheckTimeout)
		err := p.deps.Catalog.CheckReachable(checkCtx, templateURL)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("template_url", templateURL).Msg("template unreachable")
			return nil, unavailable(KindTemplateUnreachable, "Template video is unreachable",
				fmt.Sprintf("Upload the template video or fix %s", templates.EnvVar(req.TemplateID)), err)
		}
	}

	// 3. inference
	inferCtx, cancel := withTimeout(ctx, p.cfg.InferenceTimeout)
	output, err := p.deps.Inference.Run(inferCtx, faceswap.Input{FaceImage: face, FaceMIME: faceMIME, SourceVideo: templateURL})
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("inference failed")
		return nil, upstream(KindInferenceFailed, "Video generation failed", err)
	}
	videoURL, err := outputURL(output)
	if err != nil {
		log.Error().Err(err).Msg("inference returned invalid output")
		return nil, upstream(KindInvalidInferenceOutput, "Video generation returned an invalid result", err)
	}

	// 4. fetch
	fetchCtx, cancel := withTimeout(ctx, p.cfg.FetchTimeout)
	video, err := p.deps.Fetcher.Fetch(fetchCtx, videoURL)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("result fetch failed")
		return nil, upstream(KindResultFetchFailed, "Failed to download generated video", err)
	}

	// 5. upload
	key := domain.ResultKey(req.UserID, resultID)
	if err := p.deps.Store.Upload(ctx, p.cfg.ResultsBucket, key, video, "video/mp4"); err != nil {
		log.Error().Err(err).Str("key", key).Msg("result upload failed")
		if bucketMissing(err) {
			return nil, unavailable(KindResultUploadFailed, "Result storage is not available",
				fmt.Sprintf("Create the %q bucket in object storage", p.cfg.ResultsBucket), err)
		}
		return nil, upstream(KindResultUploadFailed, "Failed to store generated video", err)
	}

	// 6. sign
	signed, err := p.deps.Store.SignedURL(ctx, p.cfg.ResultsBucket, key, p.cfg.SignedURLTTL)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("signing failed")
		return nil, upstream(KindSigningFailed, "Failed to create download link", err)
	}

	if p.deps.Recorder != nil {
		record := &domain.ResultRecord{
			ID:         resultID,
			UserID:     req.UserID,
			TemplateID: req.TemplateID,
			StorageKey: key,
			Watermark:  req.Watermark,
			CreatedAt:  p.now(),
		}
		if err := p.deps.Recorder.Create(ctx, record); err != nil {
			log.Warn().Err(err).Msg("result record not persisted")
		}
	}

	log.Info().Int("bytes", len(video)).Dur("elapsed", p.now().Sub(started)).Msg("generation succeeded")
	return &domain.GenerationResult{VideoURL: signed, ResultID: resultID, TemplateID: req.TemplateID}, nil
}

// outputURL accepts only a single absolute http(s) URL string.
func outputURL(output any) (string, error) {
	s, ok := output.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected string, got %T", domain.ErrInvalidOutput, output)
	}
	s = strings.TrimSpace(s)
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: not an http(s) url: %q", domain.ErrInvalidOutput, s)
	}
	return s, nil
}

func bucketMissing(err error) bool {
	if errors.Is(err, storage.ErrBucketNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "bucket not found") || strings.Contains(msg, "nosuchbucket")
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
