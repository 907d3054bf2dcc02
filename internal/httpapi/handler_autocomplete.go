package httpapi

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/tm2bridge/tm2bridge/internal/apperr"
	"github.com/tm2bridge/tm2bridge/internal/cache"
	"github.com/tm2bridge/tm2bridge/internal/models"
)

const autocompleteMaxLimit = 50

type autocompleteSourceResult struct {
	Code        string `json:"code"`
	System      string `json:"system"`
	Term        string `json:"term"`
	EnglishName string `json:"english_name,omitempty"`
}

type autocompleteTargetResult struct {
	Code  string `json:"code"`
	Title string `json:"title"`
}

// autocompleteSourceHandler handles GET /autocomplete/source.
func (s *Server) autocompleteSourceHandler(c *echo.Context) error {
	q := c.QueryParam("q")
	if len(q) < 2 {
		return writeAppError(c, apperr.New(apperr.KindValidation, "q must be at least 2 characters"))
	}

	system := models.System(c.QueryParam("system"))
	if system != "" && !system.Valid() {
		return writeAppError(c, apperr.New(apperr.KindValidation, "unknown system"))
	}

	limit := queryInt(c, "limit", 10)
	if limit > autocompleteMaxLimit {
		limit = autocompleteMaxLimit
	}

	key := cache.Key("source", q, string(system), strconv.Itoa(limit))
	if cached, ok := s.caches.Search.Get(key); ok {
		return c.JSON(http.StatusOK, cached.([]autocompleteSourceResult))
	}

	rows, err := s.store.AutocompleteSource(c.Request().Context(), q, system, limit)
	if err != nil {
		return writeAppError(c, err)
	}

	out := make([]autocompleteSourceResult, len(rows))
	for i, r := range rows {
		out[i] = autocompleteSourceResult{Code: r.Code, System: string(r.System), Term: r.Term, EnglishName: r.EnglishName}
	}
	s.caches.Search.Set(key, out)
	return c.JSON(http.StatusOK, out)
}

// autocompleteTargetHandler handles GET /autocomplete/target.
func (s *Server) autocompleteTargetHandler(c *echo.Context) error {
	q := c.QueryParam("q")
	if len(q) < 2 {
		return writeAppError(c, apperr.New(apperr.KindValidation, "q must be at least 2 characters"))
	}

	limit := queryInt(c, "limit", 10)
	if limit > autocompleteMaxLimit {
		limit = autocompleteMaxLimit
	}

	key := cache.Key("target", q, strconv.Itoa(limit))
	if cached, ok := s.caches.Search.Get(key); ok {
		return c.JSON(http.StatusOK, cached.([]autocompleteTargetResult))
	}

	rows, err := s.store.AutocompleteTarget(c.Request().Context(), q, limit)
	if err != nil {
		return writeAppError(c, err)
	}

	out := make([]autocompleteTargetResult, len(rows))
	for i, r := range rows {
		out[i] = autocompleteTargetResult{Code: r.Code, Title: r.Title}
	}
	s.caches.Search.Set(key, out)
	return c.JSON(http.StatusOK, out)
}
