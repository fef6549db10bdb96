package handlers

import "net/http"

type templateItem struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	VideoURL   string `json:"videoUrl,omitempty"`
	Configured bool   `json:"configured"`
}

// TemplatesList handles GET /api/templates.
func (a *App) TemplatesList(w http.ResponseWriter, r *http.Request) {
	list := a.Templates.Templates()
	items := make([]templateItem, 0, len(list))
	for _, t := range list {
		item := templateItem{ID: t.ID, Title: t.Title}
		if u, err := a.Templates.Resolve(t.ID); err == nil {
			item.VideoURL = u
			item.Configured = true
		}
		items = append(items, item)
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
