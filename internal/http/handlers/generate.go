package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"viralfaces/internal/domain"
	"viralfaces/internal/generation"
	"viralfaces/internal/idempotency"
	"viralfaces/internal/middleware"
)

type generateRequest struct {
	FacePath   json.RawMessage `json:"facePath"`
	TemplateID json.RawMessage `json:"templateId"`
	UserID     json.RawMessage `json:"userId"`
	Watermark  *bool           `json:"watermark"`
}

// Generate handles POST /api/generate.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.bodyLimit())).Decode(&body); err != nil {
		a.error(w, http.StatusBadRequest, "InvalidBody", "Request body must be a JSON object")
		return
	}
	facePath, ok := stringField(body.FacePath)
	if !ok {
		a.error(w, http.StatusBadRequest, string(generation.KindInvalidPath), "facePath must be a string")
		return
	}
	templateID, ok := stringField(body.TemplateID)
	if !ok {
		a.error(w, http.StatusBadRequest, string(generation.KindUnknownTemplate), "templateId must be a string")
		return
	}
	userID, ok := stringField(body.UserID)
	if !ok {
		a.error(w, http.StatusBadRequest, string(generation.KindMissingField), "userId must be a string")
		return
	}
	req := domain.GenerationRequest{
		FacePath:   facePath,
		TemplateID: templateID,
		UserID:     userID,
		Watermark:  body.Watermark == nil || *body.Watermark,
	}

	log := a.Logger.With().Str("request_id", middleware.RequestIDFromContext(r.Context())).Logger()

	var idemKey string
	if raw := r.Header.Get(idempotency.Header); raw != "" && a.Idempotency != nil && userID != "" {
		key, err := idempotency.ValidateKey(raw)
		if err != nil {
			a.error(w, http.StatusBadRequest, "InvalidIdempotencyKey", "Idempotency-Key must be 1-255 characters")
			return
		}
		idemKey = key
		cached, found, err := a.Idempotency.Lookup(r.Context(), idemKey, req)
		if errors.Is(err, idempotency.ErrKeyReused) {
			a.error(w, http.StatusUnprocessableEntity, "IdempotencyKeyReused", "Idempotency-Key was already used with a different request")
			return
		}
		if err != nil {
			log.Warn().Err(err).Msg("idempotency lookup failed")
		} else if found {
			w.Header().Set("Idempotent-Replayed", "true")
			a.json(w, http.StatusOK, cached)
			return
		}
	}

	res, err := a.Pipeline.Run(r.Context(), req)
	if err != nil {
		a.pipelineError(w, err)
		return
	}
	if idemKey != "" {
		if err := a.Idempotency.Save(r.Context(), idemKey, req, res); err != nil {
			log.Warn().Err(err).Msg("idempotency save failed")
		}
	}
	a.json(w, http.StatusOK, res)
}

func (a *App) pipelineError(w http.ResponseWriter, err error) {
	var perr *generation.Error
	if errors.As(err, &perr) {
		a.errorDetails(w, perr.Status, string(perr.Kind), perr.Message, perr.Details)
		return
	}
	a.Logger.Error().Err(err).Msg("unclassified pipeline error")
	a.error(w, http.StatusInternalServerError, "Internal", "Video generation failed")
}

// stringField accepts an absent, null or string JSON value. Absent and null
// decode to "".
func stringField(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
