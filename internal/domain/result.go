package domain

import "time"

// GenerationRequest is the caller supplied input of a generation run. UserID is
// opaque and unauthenticated; FacePath is a key inside the faces bucket.
type GenerationRequest struct {
	FacePath   string
	TemplateID string
	UserID     string
	Watermark  bool
}

// GenerationResult is returned once per successful run and never mutated.
type GenerationResult struct {
	VideoURL   string `json:"videoUrl"`
	ResultID   string `json:"resultId"`
	TemplateID string `json:"templateId"`
}

// ResultRecord is the persisted view of a generated video.
type ResultRecord struct {
	ID         string
	UserID     string
	TemplateID string
	StorageKey string
	Watermark  bool
	IsPaid     bool
	PaidAt     *time.Time
	CreatedAt  time.Time
}

// ResultKey is the storage key of a generated video inside the results bucket.
func ResultKey(userID, resultID string) string {
	return userID + "/" + resultID + ".mp4"
}
