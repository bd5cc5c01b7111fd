package terminology

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/icdreview/icdreview/internal/platform/auth"
	"github.com/icdreview/icdreview/internal/platform/backend"
)

// SessionDropper discards a coder's open review sessions. Satisfied by the
// review service.
type SessionDropper interface {
	DropUser(username string)
}

// Handler provides the ICD-10 search endpoint.
type Handler struct {
	svc      *Service
	store    *auth.MemoryStore
	sessions SessionDropper
}

// NewHandler creates a terminology handler. store and sessions are torn
// down when the upstream rejects the coder's token mid-search.
func NewHandler(svc *Service, store *auth.MemoryStore, sessions SessionDropper) *Handler {
	return &Handler{svc: svc, store: store, sessions: sessions}
}

// RegisterRoutes registers terminology routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/terminology/icd10", h.SearchICD10)
}

// SearchICD10 handles GET /api/v1/terminology/icd10?q=...
func (h *Handler) SearchICD10(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'q' is required")
	}
	ctx := c.Request().Context()
	results, err := h.svc.Search(ctx, query)
	if err != nil {
		if errors.Is(err, ErrQueryTooShort) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if errors.Is(err, backend.ErrAuthExpired) {
			username := auth.UsernameFromContext(ctx)
			h.store.DeleteUser(username)
			h.sessions.DropUser(username)
			h.svc.logger.Warn().Str("username", username).Msg("upstream session expired during search, coder logged out")
			return echo.NewHTTPError(http.StatusUnauthorized, "session expired, please log in again")
		}
		// Other search failures surface as an empty result so the
		// typeahead degrades instead of breaking the add-code form.
		h.svc.logger.Error().Err(err).Str("query", query).Msg("icd10 search failed")
		return c.JSON(http.StatusOK, []ICDCode{})
	}
	if results == nil {
		results = []ICDCode{}
	}
	return c.JSON(http.StatusOK, results)
}
