package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"daleel.org/internal/audit"
	"daleel.org/internal/query"
)

type indexAssetRequest struct {
	AssetID string `json:"asset_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (a *API) handleIndexAsset(w http.ResponseWriter, r *http.Request) {
	var req indexAssetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	asset := query.Asset{
		ID:       req.AssetID,
		DomainID: r.PathValue("domainID"),
		Title:    req.Title,
		Content:  req.Content,
	}
	if err := a.query.IndexAsset(r.Context(), asset); err != nil {
		a.handleQueryError(w, r, err)
		return
	}
	a.audit(r, audit.EventAssetIndexed, map[string]any{"asset_id": asset.ID, "domain_id": asset.DomainID})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"asset_id":  asset.ID,
		"domain_id": asset.DomainID,
		"status":    "indexed",
	})
}

func (a *API) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.TopK < 0 {
		writeError(w, r, http.StatusBadRequest, "top_k must be positive")
		return
	}
	res, err := a.query.Query(r.Context(), r.PathValue("domainID"), req.Query, req.TopK)
	if err != nil {
		a.handleQueryError(w, r, err)
		return
	}
	if res.Matches == nil {
		res.Matches = []query.Match{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleQueryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, query.ErrInvalidAsset),
		errors.Is(err, query.ErrEmptyContent),
		errors.Is(err, query.ErrEmptyQuery),
		errors.Is(err, query.ErrDimensionMismatch):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error("query failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
