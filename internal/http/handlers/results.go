package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"viralfaces/internal/domain"
)

type resultResponse struct {
	ResultID   string     `json:"resultId"`
	UserID     string     `json:"userId"`
	TemplateID string     `json:"templateId"`
	VideoURL   string     `json:"videoUrl"`
	Watermark  bool       `json:"watermark"`
	IsPaid     bool       `json:"isPaid"`
	PaidAt     *time.Time `json:"paidAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Result handles GET /api/results/{resultId}?userId=.
func (a *App) Result(w http.ResponseWriter, r *http.Request) {
	if a.Results == nil {
		a.errorDetails(w, http.StatusServiceUnavailable, "DatabaseUnavailable",
			"Result history is not available", "Set DATABASE_URL and run the migrate command")
		return
	}
	resultID := chi.URLParam(r, "resultId")
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if resultID == "" || userID == "" {
		a.error(w, http.StatusBadRequest, "MissingField", "Missing required fields: resultId, userId")
		return
	}
	rec, err := a.Results.GetForUser(r.Context(), resultID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "ResultNotFound", "Result not found")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("result_id", resultID).Msg("load result failed")
		a.error(w, http.StatusInternalServerError, "Internal", "Failed to load result")
		return
	}
	link, err := a.Links.SignedURL(r.Context(), a.ResultsBucket, rec.StorageKey, a.SignedURLTTL)
	if err != nil {
		a.Logger.Error().Err(err).Str("result_id", resultID).Msg("sign result failed")
		a.errorDetails(w, http.StatusInternalServerError, "SigningFailed", "Failed to create download link", err.Error())
		return
	}
	a.json(w, http.StatusOK, resultResponse{
		ResultID:   rec.ID,
		UserID:     rec.UserID,
		TemplateID: rec.TemplateID,
		VideoURL:   link,
		Watermark:  rec.Watermark,
		IsPaid:     rec.IsPaid,
		PaidAt:     rec.PaidAt,
		CreatedAt:  rec.CreatedAt,
	})
}
