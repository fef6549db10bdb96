package templates

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultBaseURL hosts the built-in template videos.
const DefaultBaseURL = "https://viralfaces.ai/templates"

var (
	ErrUnknownTemplate  = errors.New("templates: unknown template")
	ErrNotConfigured    = errors.New("templates: video url not configured")
	ErrTemplateNotFound = errors.New("templates: video unreachable")
)

// Template is one entry of the fixed catalog.
type Template struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// builtin is the whitelist. Adding a template is a redeploy.
var builtin = []Template{
	{ID: "trump-dance", Title: "Trump Victory Dance"},
	{ID: "elon-cybertruck", Title: "Elon in Cybertruck"},
	{ID: "taylor-eras", Title: "Taylor Swift Eras Tour"},
	{ID: "mrbeast-money", Title: "MrBeast Money Rain"},
	{ID: "rizz", Title: "Ohio Rizz Face"},
}

// IDs returns the whitelisted template IDs in catalog order.
func IDs() []string {
	ids := make([]string, len(builtin))
	for i, t := range builtin {
		ids[i] = t.ID
	}
	return ids
}

// EnvVar returns the environment variable overriding the video URL of id,
// e.g. TEMPLATE_TRUMP_DANCE_URL.
func EnvVar(id string) string {
	return "TEMPLATE_" + cases.Upper(language.Und).String(strings.ReplaceAll(id, "-", "_")) + "_URL"
}

// Catalog maps template IDs to source video URLs. It is immutable after
// construction.
type Catalog struct {
	templates []Template
	urls      map[string]string
	client    *http.Client
}

// Option customizes a Catalog.
type Option func(*Catalog)

// WithHTTPClient sets the client used for reachability checks.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Catalog) {
		if client != nil {
			c.client = client
		}
	}
}

// NewCatalog builds the catalog from explicit URLs. Missing or empty entries
// stay unconfigured.
func NewCatalog(urls map[string]string, opts ...Option) *Catalog {
	c := &Catalog{
		templates: append([]Template(nil), builtin...),
		urls:      make(map[string]string, len(builtin)),
		client:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, t := range c.templates {
		c.urls[t.ID] = strings.TrimSpace(urls[t.ID])
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadFromEnv resolves every template URL from TEMPLATE_<ID>_URL, falling back
// to TEMPLATE_BASE_URL/<id>.mp4. TEMPLATE_BASE_URL defaults to DefaultBaseURL;
// setting it explicitly empty leaves templates without an override
// unconfigured.
func LoadFromEnv(opts ...Option) *Catalog {
	return LoadFrom(os.LookupEnv, opts...)
}

// LoadFrom is LoadFromEnv with an injectable lookup.
func LoadFrom(lookup func(string) (string, bool), opts ...Option) *Catalog {
	base := DefaultBaseURL
	if v, ok := lookup("TEMPLATE_BASE_URL"); ok {
		base = strings.TrimRight(strings.TrimSpace(v), "/")
	}
	urls := make(map[string]string, len(builtin))
	for _, t := range builtin {
		if v, ok := lookup(EnvVar(t.ID)); ok && strings.TrimSpace(v) != "" {
			urls[t.ID] = v
			continue
		}
		if base != "" {
			urls[t.ID] = base + "/" + t.ID + ".mp4"
		}
	}
	return NewCatalog(urls, opts...)
}

// Has reports whether id is whitelisted.
func (c *Catalog) Has(id string) bool {
	_, ok := c.urls[id]
	return ok
}

// IDs returns the whitelisted IDs.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.templates))
	for i, t := range c.templates {
		ids[i] = t.ID
	}
	return ids
}

// Templates returns the catalog entries in order.
func (c *Catalog) Templates() []Template {
	return append([]Template(nil), c.templates...)
}

// Resolve returns the source video URL of id.
func (c *Catalog) Resolve(id string) (string, error) {
	u, ok := c.urls[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
	}
	if u == "" {
		return "", fmt.Errorf("%w: set %s", ErrNotConfigured, EnvVar(id))
	}
	return u, nil
}

// CheckReachable issues a HEAD request against a template video URL and fails
// on transport errors or non 2xx responses.
func (c *Catalog) CheckReachable(ctx context.Context, videoURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, videoURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTemplateNotFound, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTemplateNotFound, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrTemplateNotFound, resp.StatusCode)
	}
	return nil
}
