package handler

import (
	"net/http"

	"github.com/capitalize-ai/chatdesk/internal/middleware"
	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/internal/search"
	"github.com/capitalize-ai/chatdesk/internal/store"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
	"github.com/capitalize-ai/chatdesk/pkg/metrics"
)

// SearchHandler handles full-text search across the conversation snapshot.
type SearchHandler struct {
	store  *store.Store
	logger *logger.Logger
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(s *store.Store, log *logger.Logger) *SearchHandler {
	return &SearchHandler{
		store:  s,
		logger: log,
	}
}

type searchResultView struct {
	model.SearchResult
	Highlighted string `json:"highlighted,omitempty"`
}

type searchResponse struct {
	Results []searchResultView `json:"results"`
	Total   int                `json:"total"`
}

// Search handles GET /api/v1/search?q=
//
// An empty query yields an empty result set, not an error.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, middleware.GetUserID(r.Context()), h.store) {
		return
	}

	query := r.URL.Query().Get("q")
	if err := middleware.ValidateSearchQuery(query); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results := search.Search(h.store.Snapshot(), query)
	metrics.RecordSearch(len(results))

	views := make([]searchResultView, len(results))
	for i, res := range results {
		views[i] = searchResultView{
			SearchResult: res,
			Highlighted:  search.Highlight(res.Content, query),
		}
	}

	writeJSON(w, http.StatusOK, &searchResponse{
		Results: views,
		Total:   len(views),
	})
}
