package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"viralfaces/internal/domain"
	"viralfaces/internal/faceimage"
	"viralfaces/internal/providers/faceswap"
	"viralfaces/internal/storage"
	"viralfaces/internal/templates"
)

type stubStore struct {
	mu           sync.Mutex
	face         []byte
	downloadErr  error
	uploadErr    error
	signErr      error
	downloads    int
	uploads      int
	signs        int
	uploadedKeys []string
	signedTTL    time.Duration
	contentType  string
}

func (s *stubStore) Download(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads++
	if s.downloadErr != nil {
		return nil, s.downloadErr
	}
	return s.face, nil
}

func (s *stubStore) Upload(_ context.Context, bucket, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	s.contentType = contentType
	if s.uploadErr != nil {
		return s.uploadErr
	}
	s.uploadedKeys = append(s.uploadedKeys, bucket+"/"+key)
	return nil
}

func (s *stubStore) SignedURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signs++
	s.signedTTL = ttl
	if s.signErr != nil {
		return "", s.signErr
	}
	return "https://files.test/" + bucket + "/" + key + "?signature=abc", nil
}

type stubCatalog struct {
	urls       map[string]string
	reachErr   error
	reachCalls int
}

func (c *stubCatalog) Has(id string) bool {
	_, ok := c.urls[id]
	return ok
}

func (c *stubCatalog) IDs() []string { return templates.IDs() }

func (c *stubCatalog) Resolve(id string) (string, error) {
	u := c.urls[id]
	if u == "" {
		return "", templates.ErrNotConfigured
	}
	return u, nil
}

func (c *stubCatalog) CheckReachable(context.Context, string) error {
	c.reachCalls++
	return c.reachErr
}

type stubInference struct {
	mu     sync.Mutex
	output any
	err    error
	calls  int
	last   faceswap.Input
}

func (s *stubInference) Run(_ context.Context, in faceswap.Input) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = in
	return s.output, s.err
}

type stubFetcher struct {
	mu    sync.Mutex
	data  []byte
	err   error
	calls int
}

func (s *stubFetcher) Fetch(context.Context, string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.data, s.err
}

type stubRecorder struct {
	mu      sync.Mutex
	records []*domain.ResultRecord
	err     error
}

func (s *stubRecorder) Create(_ context.Context, r *domain.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return s.err
}

type fixture struct {
	store     *stubStore
	catalog   *stubCatalog
	inference *stubInference
	fetcher   *stubFetcher
	recorder  *stubRecorder
}

func newFixture() *fixture {
	return &fixture{
		store: &stubStore{face: []byte("face-bytes")},
		catalog: &stubCatalog{urls: map[string]string{
			"trump-dance": "https://viralfaces.ai/templates/trump-dance.mp4",
			"rizz":        "https://viralfaces.ai/templates/rizz.mp4",
		}},
		inference: &stubInference{output: "https://replicate.delivery/out.mp4"},
		fetcher:   &stubFetcher{data: []byte("mp4-bytes")},
		recorder:  &stubRecorder{},
	}
}

func (f *fixture) pipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	p, err := NewPipeline(cfg, Deps{
		Store:     f.store,
		Catalog:   f.catalog,
		Inference: f.inference,
		Fetcher:   f.fetcher,
		Recorder:  f.recorder,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func validRequest() domain.GenerationRequest {
	return domain.GenerationRequest{FacePath: "u1/face.jpg", TemplateID: "trump-dance", UserID: "u1"}
}

func asError(t *testing.T, err error) *Error {
	t.Helper()
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("error %v is not *Error", err)
	}
	return perr
}

func TestRunSuccess(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t, Config{})
	p.newID = func() string { return "res-1" }

	res, err := p.Run(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.ResultID != "res-1" || res.TemplateID != "trump-dance" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.HasPrefix(res.VideoURL, "https://files.test/results/u1/res-1.mp4") {
		t.Fatalf("videoUrl = %q", res.VideoURL)
	}
	if f.store.downloads != 1 || f.inference.calls != 1 || f.fetcher.calls != 1 || f.store.uploads != 1 || f.store.signs != 1 {
		t.Fatalf("call counts download=%d infer=%d fetch=%d upload=%d sign=%d",
			f.store.downloads, f.inference.calls, f.fetcher.calls, f.store.uploads, f.store.signs)
	}
	if f.store.contentType != "video/mp4" {
		t.Fatalf("content type = %q", f.store.contentType)
	}
	if f.store.signedTTL != 30*24*time.Hour {
		t.Fatalf("signed ttl = %v", f.store.signedTTL)
	}
	if f.inference.last.SourceVideo != "https://viralfaces.ai/templates/trump-dance.mp4" {
		t.Fatalf("source video = %q", f.inference.last.SourceVideo)
	}
	if len(f.recorder.records) != 1 || f.recorder.records[0].StorageKey != "u1/res-1.mp4" {
		t.Fatalf("records = %+v", f.recorder.records)
	}
}

func TestRunValidation(t *testing.T) {
	tests := []struct {
		name   string
		req    domain.GenerationRequest
		kind   Kind
		detail string
	}{
		{name: "missing face", req: domain.GenerationRequest{TemplateID: "rizz", UserID: "u1"}, kind: KindMissingField},
		{name: "missing all", req: domain.GenerationRequest{}, kind: KindMissingField},
		{name: "blank user", req: domain.GenerationRequest{FacePath: "a.jpg", TemplateID: "rizz", UserID: "  "}, kind: KindMissingField},
		{name: "dot dot", req: domain.GenerationRequest{FacePath: "../secrets", TemplateID: "rizz", UserID: "u1"}, kind: KindInvalidPath},
		{name: "double slash", req: domain.GenerationRequest{FacePath: "u1//a.jpg", TemplateID: "rizz", UserID: "u1"}, kind: KindInvalidPath},
		{name: "leading slash", req: domain.GenerationRequest{FacePath: "/etc/passwd", TemplateID: "rizz", UserID: "u1"}, kind: KindInvalidPath},
		{name: "unknown template", req: domain.GenerationRequest{FacePath: "u1/a.jpg", TemplateID: "nope", UserID: "u1"}, kind: KindUnknownTemplate, detail: "trump-dance"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			p := f.pipeline(t, Config{})
			_, err := p.Run(context.Background(), tc.req)
			perr := asError(t, err)
			if perr.Kind != tc.kind || perr.Status != http.StatusBadRequest {
				t.Fatalf("got %s/%d, want %s/400", perr.Kind, perr.Status, tc.kind)
			}
			if tc.detail != "" && !strings.Contains(perr.Details, tc.detail) {
				t.Fatalf("details %q missing %q", perr.Details, tc.detail)
			}
			if f.store.downloads != 0 || f.inference.calls != 0 {
				t.Fatalf("collaborators touched on invalid input")
			}
		})
	}
}

func TestMissingFieldMessageListsFields(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t, Config{})
	verr := p.Validate(domain.GenerationRequest{TemplateID: "rizz"})
	if verr == nil || !strings.Contains(verr.Message, "facePath") || !strings.Contains(verr.Message, "userId") {
		t.Fatalf("Validate = %+v", verr)
	}
	if strings.Contains(verr.Message, "templateId") {
		t.Fatalf("message lists a present field: %q", verr.Message)
	}
}

func TestRunFaceDownloadErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   Kind
		status int
	}{
		{name: "missing object", err: storage.ErrObjectNotFound, kind: KindFaceNotFound, status: http.StatusNotFound},
		{name: "generic", err: errors.New("connection reset"), kind: KindFaceNotFound, status: http.StatusNotFound},
		{name: "typed bucket", err: fmt.Errorf("download: %w", storage.ErrBucketNotFound), kind: KindStorageUnavailable, status: http.StatusServiceUnavailable},
		{name: "message bucket", err: errors.New("Bucket not found"), kind: KindStorageUnavailable, status: http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.store.downloadErr = tc.err
			p := f.pipeline(t, Config{})
			_, err := p.Run(context.Background(), validRequest())
			perr := asError(t, err)
			if perr.Kind != tc.kind || perr.Status != tc.status {
				t.Fatalf("got %s/%d, want %s/%d", perr.Kind, perr.Status, tc.kind, tc.status)
			}
			if f.inference.calls != 0 {
				t.Fatalf("inference ran after download failure")
			}
		})
	}
}

func TestRunTemplateNotConfigured(t *testing.T) {
	f := newFixture()
	f.catalog.urls["rizz"] = ""
	p := f.pipeline(t, Config{})
	req := validRequest()
	req.TemplateID = "rizz"

	_, err := p.Run(context.Background(), req)
	perr := asError(t, err)
	if perr.Kind != KindTemplateNotConfigured || perr.Status != http.StatusServiceUnavailable {
		t.Fatalf("got %s/%d", perr.Kind, perr.Status)
	}
	if !strings.Contains(perr.Details, "TEMPLATE_RIZZ_URL") {
		t.Fatalf("details = %q", perr.Details)
	}
	if f.inference.calls != 0 {
		t.Fatalf("inference ran without template")
	}
}

func TestRunTemplateReachability(t *testing.T) {
	f := newFixture()
	f.catalog.reachErr = templates.ErrTemplateNotFound
	p := f.pipeline(t, Config{CheckTemplateReachable: true, TemplateCheckTimeout: time.Second})

	_, err := p.Run(context.Background(), validRequest())
	perr := asError(t, err)
	if perr.Kind != KindTemplateUnreachable || perr.Status != http.StatusServiceUnavailable {
		t.Fatalf("got %s/%d", perr.Kind, perr.Status)
	}

	f2 := newFixture()
	f2.catalog.reachErr = templates.ErrTemplateNotFound
	if _, err := f2.pipeline(t, Config{}).Run(context.Background(), validRequest()); err != nil {
		t.Fatalf("check disabled, got %v", err)
	}
	if f2.catalog.reachCalls != 0 {
		t.Fatalf("reachability checked while disabled")
	}
}

func TestRunInferenceFailure(t *testing.T) {
	f := newFixture()
	f.inference.err = errors.New("model crashed")
	p := f.pipeline(t, Config{})

	_, err := p.Run(context.Background(), validRequest())
	perr := asError(t, err)
	if perr.Kind != KindInferenceFailed || perr.Status != http.StatusInternalServerError {
		t.Fatalf("got %s/%d", perr.Kind, perr.Status)
	}
	if f.fetcher.calls != 0 || f.store.uploads != 0 {
		t.Fatalf("fetch/upload ran after inference failure")
	}
}

func TestRunInvalidInferenceOutput(t *testing.T) {
	outputs := []any{
		nil,
		42.0,
		[]any{"https://replicate.delivery/out.mp4"},
		map[string]any{"url": "https://x"},
		"not a url",
		"ftp://replicate.delivery/out.mp4",
		"",
	}
	for _, out := range outputs {
		t.Run(fmt.Sprintf("%T/%v", out, out), func(t *testing.T) {
			f := newFixture()
			f.inference.output = out
			p := f.pipeline(t, Config{})
			_, err := p.Run(context.Background(), validRequest())
			perr := asError(t, err)
			if perr.Kind != KindInvalidInferenceOutput || perr.Status != http.StatusInternalServerError {
				t.Fatalf("got %s/%d", perr.Kind, perr.Status)
			}
			if !errors.Is(err, domain.ErrInvalidOutput) {
				t.Fatalf("error does not wrap ErrInvalidOutput: %v", err)
			}
			if f.fetcher.calls != 0 || f.store.uploads != 0 || f.store.signs != 0 {
				t.Fatalf("downstream steps ran for invalid output")
			}
		})
	}
}

func TestRunFetchFailure(t *testing.T) {
	f := newFixture()
	f.fetcher.err = errors.New("fetch: unexpected status 403")
	p := f.pipeline(t, Config{})

	_, err := p.Run(context.Background(), validRequest())
	perr := asError(t, err)
	if perr.Kind != KindResultFetchFailed || perr.Status != http.StatusInternalServerError {
		t.Fatalf("got %s/%d", perr.Kind, perr.Status)
	}
	if f.store.uploads != 0 {
		t.Fatalf("upload ran after fetch failure")
	}
}

func TestRunUploadFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "generic", err: errors.New("write timeout"), status: http.StatusInternalServerError},
		{name: "bucket missing", err: storage.ErrBucketNotFound, status: http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.store.uploadErr = tc.err
			p := f.pipeline(t, Config{})
			_, err := p.Run(context.Background(), validRequest())
			perr := asError(t, err)
			if perr.Kind != KindResultUploadFailed || perr.Status != tc.status {
				t.Fatalf("got %s/%d", perr.Kind, perr.Status)
			}
			if f.store.signs != 0 {
				t.Fatalf("signing ran after upload failure")
			}
			if len(f.recorder.records) != 0 {
				t.Fatalf("record created after upload failure")
			}
		})
	}
}

func TestRunSigningFailure(t *testing.T) {
	f := newFixture()
	f.store.signErr = errors.New("signer offline")
	p := f.pipeline(t, Config{})

	_, err := p.Run(context.Background(), validRequest())
	perr := asError(t, err)
	if perr.Kind != KindSigningFailed || perr.Status != http.StatusInternalServerError {
		t.Fatalf("got %s/%d", perr.Kind, perr.Status)
	}
}

func TestRunRecorderFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture()
	f.recorder.err = errors.New("db down")
	p := f.pipeline(t, Config{})
	if _, err := p.Run(context.Background(), validRequest()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
}

type stubNormalizer struct{ err error }

func (s stubNormalizer) Normalize(data []byte) ([]byte, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return append([]byte("norm:"), data...), "image/jpeg", nil
}

func TestRunNormalizesFace(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t, Config{})
	p.deps.Normalizer = stubNormalizer{}
	if _, err := p.Run(context.Background(), validRequest()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if string(f.inference.last.FaceImage) != "norm:face-bytes" || f.inference.last.FaceMIME != "image/jpeg" {
		t.Fatalf("inference input = %+v", f.inference.last)
	}

	f2 := newFixture()
	p2 := f2.pipeline(t, Config{})
	p2.deps.Normalizer = stubNormalizer{err: errors.New("bad image")}
	_, err := p2.Run(context.Background(), validRequest())
	perr := asError(t, err)
	if perr.Kind != KindInvalidFaceImage || perr.Status != http.StatusBadRequest {
		t.Fatalf("got %s/%d", perr.Kind, perr.Status)
	}
}

func TestRunForwardsUndecodableFormatsToInference(t *testing.T) {
	webp := []byte("RIFF\x24\x00\x00\x00WEBPVP8 \x18\x00\x00\x00")
	f := newFixture()
	f.store.face = webp
	p := f.pipeline(t, Config{})
	p.deps.Normalizer = faceimage.NewNormalizer(1024)

	if _, err := p.Run(context.Background(), validRequest()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if f.inference.calls != 1 {
		t.Fatalf("inference calls = %d, want 1", f.inference.calls)
	}
	if string(f.inference.last.FaceImage) != string(webp) || f.inference.last.FaceMIME != "" {
		t.Fatalf("inference input = %q / %q", f.inference.last.FaceImage, f.inference.last.FaceMIME)
	}
}

func TestRunConcurrentRequestsGetDistinctResults(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t, Config{})

	const n = 8
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Run(context.Background(), validRequest())
			if err != nil {
				t.Errorf("Run error: %v", err)
				return
			}
			ids <- res.ResultID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate result id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n || len(f.store.uploadedKeys) != n {
		t.Fatalf("got %d ids and %d uploads, want %d", len(seen), len(f.store.uploadedKeys), n)
	}
}

func TestNewPipelineRequiresCollaborators(t *testing.T) {
	if _, err := NewPipeline(Config{}, Deps{}); err == nil {
		t.Fatal("expected error for missing collaborators")
	}
}
