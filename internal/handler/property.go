package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/openmetro/parcelview/internal/middleware"
	"github.com/openmetro/parcelview/internal/model"
	"github.com/openmetro/parcelview/internal/repository"
	"github.com/openmetro/parcelview/internal/search"
)

// Searcher runs the ranked free-text search.
type Searcher interface {
	Search(ctx context.Context, rawQuery string, limit int, userID *uint64) ([]search.Result, error)
}

// PropertyFinder resolves single properties by location or key.
type PropertyFinder interface {
	ByCoordinates(ctx context.Context, lon, lat float64) (model.Property, error)
	ByParcelKey(ctx context.Context, key string) (model.Property, error)
}

// PropertyHandler serves the property search and lookup endpoints.
type PropertyHandler struct {
	Engine Searcher
	Finder PropertyFinder
	Log    *zap.SugaredLogger
}

func NewPropertyHandler(e Searcher, f PropertyFinder, log *zap.SugaredLogger) *PropertyHandler {
	return &PropertyHandler{Engine: e, Finder: f, Log: log}
}

// Search handles GET /v1/properties/search?q=&limit=.
func (h *PropertyHandler) Search(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))

	limit := search.DefaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > search.MaxLimit {
			return c.JSON(http.StatusBadRequest, echo.Map{
				"error": "limit must be an integer between 1 and 50",
			})
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	var uid *uint64
	if v, ok := c.Get(middleware.CtxUserID).(uint64); ok {
		uid = &v
	}

	results, err := h.Engine.Search(ctx, q, limit, uid)
	if err != nil {
		if errors.Is(err, search.ErrQueryLength) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		h.Log.Errorw("property search failed", "q", q, "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"count":   len(results),
		"results": results,
	})
}

// ByCoordinates handles GET /v1/properties/by-coordinates?longitude=&latitude=.
func (h *PropertyHandler) ByCoordinates(c echo.Context) error {
	lon, err1 := strconv.ParseFloat(c.QueryParam("longitude"), 64)
	lat, err2 := strconv.ParseFloat(c.QueryParam("latitude"), 64)
	if err1 != nil || err2 != nil || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "longitude and latitude must be valid WGS84 coordinates",
		})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	p, err := h.Finder.ByCoordinates(ctx, lon, lat)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no property at these coordinates"})
		}
		h.Log.Errorw("coordinate lookup failed", "lon", lon, "lat", lat, "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, p)
}

// ByParcelKey handles GET /v1/properties/by-parcel-key/:parcelKey.
func (h *PropertyHandler) ByParcelKey(c echo.Context) error {
	key := strings.TrimSpace(c.Param("parcelKey"))
	if key == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "parcelKey is required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	p, err := h.Finder.ByParcelKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no parcel with this key"})
		}
		h.Log.Errorw("parcel key lookup failed", "key", key, "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, p)
}
