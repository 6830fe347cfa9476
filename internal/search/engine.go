package search

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/openmetro/parcelview/internal/model"
)

// Query is a normalized, tokenized search request passed to the SQL
// strategies. Limit bounds how many candidates each source should return;
// sources may return more than the final limit since ranking happens here.
type Query struct {
	Normalized string
	Tokens     []string
	Limit      int
}

// ParcelSource searches the parcel table.
type ParcelSource interface {
	SearchParcels(ctx context.Context, q Query) ([]Candidate, error)
}

// AddressPointSource searches the independent address-point table, with
// parcel backfill already applied by the implementation.
type AddressPointSource interface {
	SearchAddressPoints(ctx context.Context, q Query) ([]Candidate, error)
}

// ActivitySink records audit facts without ever blocking or failing the
// caller.
type ActivitySink interface {
	Log(eventType string, userID *uint64, metadata map[string]any)
}

// Limits on the search contract.
const (
	MinQueryLen  = 2
	MaxQueryLen  = 120
	MaxLimit     = 50
	DefaultLimit = 20
)

// ErrQueryLength is returned when the raw query falls outside 2–120 chars.
var ErrQueryLength = errors.New("query must be between 2 and 120 characters")

// Engine blends the parcel and address-point strategies into one ranked
// result space. Both sources are independent: the parcel table and the
// address-point table each have incomplete or stale address strings, so
// neither is trusted alone.
type Engine struct {
	parcels  ParcelSource
	points   AddressPointSource
	activity ActivitySink
}

func NewEngine(parcels ParcelSource, points AddressPointSource, activity ActivitySink) *Engine {
	return &Engine{parcels: parcels, points: points, activity: activity}
}

// Search executes the full pipeline: normalize, strip the token seed, run
// both sources, merge and rank, truncate, audit. The activity entry is
// recorded for hits and misses alike and never blocks the response.
func (e *Engine) Search(ctx context.Context, rawQuery string, limit int, userID *uint64) ([]Result, error) {
	// Length bounds count runes, not bytes; accented street and owner
	// names must not hit the ceiling early.
	if n := utf8.RuneCountInString(rawQuery); n < MinQueryLen || n > MaxQueryLen {
		return nil, ErrQueryLength
	}
	if limit < 1 || limit > MaxLimit {
		limit = DefaultLimit
	}

	norm := Normalize(rawQuery)
	if len(norm) < MinQueryLen {
		return nil, ErrQueryLength
	}
	q := Query{Normalized: norm, Tokens: TokenSeed(norm), Limit: limit}

	fromParcels, err := e.parcels.SearchParcels(ctx, q)
	if err != nil {
		return nil, err
	}
	fromPoints, err := e.points.SearchAddressPoints(ctx, q)
	if err != nil {
		return nil, err
	}

	results := Rank(append(fromParcels, fromPoints...), limit)

	if e.activity != nil {
		e.activity.Log(model.EventPropertySearch, userID, map[string]any{
			"query":   rawQuery,
			"results": len(results),
		})
	}
	return results, nil
}
