package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"viralfaces/internal/storage"
)

// Download handles GET /files/{bucket}/*, redeeming a long lived signed link
// for a short presigned storage URL.
func (a *App) Download(w http.ResponseWriter, r *http.Request) {
	if a.Downloads == nil || a.Links == nil {
		a.error(w, http.StatusNotFound, "NotFound", "Downloads are not enabled")
		return
	}
	bucket, err := pathParam(r, "bucket")
	if err != nil {
		a.error(w, http.StatusBadRequest, "InvalidPath", "Invalid download path")
		return
	}
	key, err := pathParam(r, "*")
	if err != nil || bucket == "" || key == "" {
		a.error(w, http.StatusBadRequest, "InvalidPath", "Invalid download path")
		return
	}
	q := r.URL.Query()
	switch err := a.Downloads.Verify(bucket, key, q.Get("expires"), q.Get("signature")); {
	case errors.Is(err, storage.ErrLinkExpired):
		a.error(w, http.StatusGone, "LinkExpired", "Download link has expired")
		return
	case err != nil:
		a.error(w, http.StatusForbidden, "InvalidSignature", "Download link is invalid")
		return
	}
	ttl := a.DownloadTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	target, err := a.Links.Presign(r.Context(), bucket, key, ttl)
	if err != nil {
		a.Logger.Error().Err(err).Str("bucket", bucket).Str("key", key).Msg("presign download failed")
		a.error(w, http.StatusServiceUnavailable, "StorageUnavailable", "Download is temporarily unavailable")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusFound)
}

// pathParam returns a decoded route parameter. chi matches against RawPath
// when the request has one, leaving parameters escaped; otherwise they are
// already decoded and must not be unescaped again.
func pathParam(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v, nil
	}
	return url.PathUnescape(v)
}
