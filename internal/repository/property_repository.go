package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/openmetro/parcelview/internal/model"
	"github.com/openmetro/parcelview/internal/search"
)

// PropertyRepo runs the SQL search strategies and spatial lookups over the
// pipeline-owned parcels and address_points tables. It returns candidates
// with raw match flags; bucket/score assignment and ordering live in the
// search package.
//
// All text matching happens in a normalized space produced by the same rule
// the search package applies to queries: lowercase, non-alphanumeric runs
// collapsed to single spaces, trimmed. The expressions below are assumed to
// be backed by pg_trgm expression indexes maintained by the data pipeline.
type PropertyRepo struct{ db *sqlx.DB }

func NewPropertyRepo(db *sqlx.DB) *PropertyRepo { return &PropertyRepo{db: db} }

// Geographic tolerances in meters. Backfill joins prefer an intersecting
// parcel, else the nearest within tolerance.
const (
	backfillToleranceM   = 25
	coordinateToleranceM = 50
	fuzzyThreshold       = "0.30"
)

// candidateRow is the scan target for the strategy queries: a property plus
// which match classes fired for it.
type candidateRow struct {
	model.Property
	ExactKey   bool `db:"m_exact_key"`
	ExactAddr  bool `db:"m_exact_addr"`
	PrefixKey  bool `db:"m_prefix_key"`
	PrefixAddr bool `db:"m_prefix_addr"`
	Substr     bool `db:"m_substr"`
	Token      bool `db:"m_token"`
	Fuzzy      bool `db:"m_fuzzy"`
	Owner      bool `db:"m_owner"`
}

func (c candidateRow) candidate() search.Candidate {
	return search.Candidate{
		Property: c.Property,
		Match: search.MatchFlags{
			ExactKey:      c.ExactKey,
			ExactAddress:  c.ExactAddr,
			PrefixKey:     c.PrefixKey,
			PrefixAddress: c.PrefixAddr,
			Substring:     c.Substr,
			Token:         c.Token,
			Fuzzy:         c.Fuzzy,
			Owner:         c.Owner,
		},
	}
}

// normExpr produces the SQL normalization of a text column, matching
// search.Normalize.
func normExpr(col string) string {
	return "btrim(regexp_replace(lower(COALESCE(" + col + ", '')), '[^a-z0-9]+', ' ', 'g'))"
}

// tokenCond builds an AND of per-token substring conditions against the
// normalized column expression, appending one argument per token. The arg
// slice grows, so placeholders are numbered from its current length.
func tokenCond(expr string, tokens []string, args *[]any) string {
	if len(tokens) == 0 {
		return "FALSE"
	}
	conds := make([]string, 0, len(tokens))
	for _, t := range tokens {
		*args = append(*args, "%"+t+"%")
		conds = append(conds, fmt.Sprintf("%s LIKE $%d", expr, len(*args)))
	}
	return "(" + strings.Join(conds, " AND ") + ")"
}

// candidateCap bounds how many rows one strategy query may return. Each
// source over-fetches relative to the requested limit because merging and
// de-duplication happen after both sources report.
func candidateCap(limit int) int {
	n := limit * 3
	if n > 150 {
		n = 150
	}
	if n < 20 {
		n = 20
	}
	return n
}

// SearchParcels runs every parcel strategy in one pass: exact and prefix on
// the parcel key, exact/prefix/substring/token/fuzzy on the situs address,
// substring on the owner name.
func (r *PropertyRepo) SearchParcels(ctx context.Context, q search.Query) ([]search.Candidate, error) {
	args := []any{q.Normalized, candidateCap(q.Limit)}
	tok := tokenCond("c.na", q.Tokens, &args)

	query := `
WITH c AS (
  SELECT p.parcel_key, p.situs_address, p.owner_name, p.market_value, p.geom,
         ` + normExpr("p.parcel_key") + `    AS nk,
         ` + normExpr("p.situs_address") + ` AS na,
         ` + normExpr("p.owner_name") + `    AS no
  FROM parcels p
)
SELECT c.parcel_key AS key,
       c.parcel_key,
       COALESCE(c.situs_address, '') AS address,
       COALESCE(c.owner_name, '')    AS owner_name,
       c.market_value,
       COALESCE(z.zone_code, '') AS zone_code,
       COALESCE(f.zone_type, '') AS flood_zone,
       ST_X(ST_PointOnSurface(c.geom)) AS longitude,
       ST_Y(ST_PointOnSurface(c.geom)) AS latitude,
       'parcel' AS source,
       (c.nk = $1)                        AS m_exact_key,
       (c.na = $1)                        AS m_exact_addr,
       (c.nk LIKE $1 || '%')              AS m_prefix_key,
       (c.na LIKE $1 || '%')              AS m_prefix_addr,
       (c.na LIKE '%' || $1 || '%')       AS m_substr,
       ` + tok + `                        AS m_token,
       (similarity(c.na, $1) > ` + fuzzyThreshold + `) AS m_fuzzy,
       (c.no LIKE '%' || $1 || '%')       AS m_owner
FROM c
LEFT JOIN LATERAL (
  SELECT z.zone_code FROM zoning_districts z
  WHERE ST_Intersects(z.geom, ST_PointOnSurface(c.geom)) LIMIT 1
) z ON TRUE
LEFT JOIN LATERAL (
  SELECT f.zone_type FROM flood_zones f
  WHERE ST_Intersects(f.geom, ST_PointOnSurface(c.geom)) LIMIT 1
) f ON TRUE
WHERE c.nk = $1
   OR c.nk LIKE $1 || '%'
   OR c.na LIKE '%' || $1 || '%'
   OR ` + tok + `
   OR similarity(c.na, $1) > ` + fuzzyThreshold + `
   OR c.no LIKE '%' || $1 || '%'
ORDER BY c.market_value DESC NULLS LAST, c.parcel_key ASC
LIMIT $2`

	return r.selectCandidates(ctx, query, args)
}

// SearchAddressPoints runs the same strategies over the independent
// address-point table. Each hit is joined back to its preferred parcel
// (intersecting first, else nearest within tolerance) to backfill owner,
// value and key; points with no parcel in reach become synthetic
// "ap:<id>" results.
func (r *PropertyRepo) SearchAddressPoints(ctx context.Context, q search.Query) ([]search.Candidate, error) {
	args := []any{q.Normalized, candidateCap(q.Limit)}
	tok := tokenCond("c.na", q.Tokens, &args)

	query := `
WITH c AS (
  SELECT a.id, a.full_address, a.geom,
         ` + normExpr("a.full_address") + ` AS na
  FROM address_points a
)
SELECT COALESCE(bp.parcel_key, 'ap:' || c.id::text) AS key,
       COALESCE(bp.parcel_key, '') AS parcel_key,
       COALESCE(c.full_address, '') AS address,
       COALESCE(bp.owner_name, '')  AS owner_name,
       bp.market_value,
       COALESCE(z.zone_code, '') AS zone_code,
       COALESCE(f.zone_type, '') AS flood_zone,
       ST_X(c.geom) AS longitude,
       ST_Y(c.geom) AS latitude,
       'address_point' AS source,
       FALSE                              AS m_exact_key,
       (c.na = $1)                        AS m_exact_addr,
       FALSE                              AS m_prefix_key,
       (c.na LIKE $1 || '%')              AS m_prefix_addr,
       (c.na LIKE '%' || $1 || '%')       AS m_substr,
       ` + tok + `                        AS m_token,
       (similarity(c.na, $1) > ` + fuzzyThreshold + `) AS m_fuzzy,
       FALSE                              AS m_owner
FROM c
LEFT JOIN LATERAL (
  SELECT p.parcel_key, p.owner_name, p.market_value
  FROM parcels p
  WHERE ST_Intersects(p.geom, c.geom)
     OR ST_DWithin(p.geom::geography, c.geom::geography, ` + fmt.Sprint(backfillToleranceM) + `)
  ORDER BY ST_Intersects(p.geom, c.geom) DESC,
           ST_Distance(p.geom::geography, c.geom::geography)
  LIMIT 1
) bp ON TRUE
LEFT JOIN LATERAL (
  SELECT z.zone_code FROM zoning_districts z
  WHERE ST_Intersects(z.geom, c.geom) LIMIT 1
) z ON TRUE
LEFT JOIN LATERAL (
  SELECT f.zone_type FROM flood_zones f
  WHERE ST_Intersects(f.geom, c.geom) LIMIT 1
) f ON TRUE
WHERE c.na = $1
   OR c.na LIKE '%' || $1 || '%'
   OR ` + tok + `
   OR similarity(c.na, $1) > ` + fuzzyThreshold + `
ORDER BY bp.market_value DESC NULLS LAST, key ASC
LIMIT $2`

	return r.selectCandidates(ctx, query, args)
}

func (r *PropertyRepo) selectCandidates(ctx context.Context, query string, args []any) ([]search.Candidate, error) {
	var rows []candidateRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]search.Candidate, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.candidate())
	}
	return out, nil
}

// propertySelect is the shared projection for single-property lookups.
const propertySelect = `
SELECT p.parcel_key AS key,
       p.parcel_key,
       COALESCE(p.situs_address, '') AS address,
       COALESCE(p.owner_name, '')    AS owner_name,
       p.market_value,
       COALESCE(z.zone_code, '') AS zone_code,
       COALESCE(f.zone_type, '') AS flood_zone,
       ST_X(ST_PointOnSurface(p.geom)) AS longitude,
       ST_Y(ST_PointOnSurface(p.geom)) AS latitude,
       'parcel' AS source
FROM parcels p
LEFT JOIN LATERAL (
  SELECT z.zone_code FROM zoning_districts z
  WHERE ST_Intersects(z.geom, ST_PointOnSurface(p.geom)) LIMIT 1
) z ON TRUE
LEFT JOIN LATERAL (
  SELECT f.zone_type FROM flood_zones f
  WHERE ST_Intersects(f.geom, ST_PointOnSurface(p.geom)) LIMIT 1
) f ON TRUE`

// ByCoordinates resolves a point to a property: the containing parcel if
// one exists, else the nearest parcel within tolerance, else the nearest
// bare address point, else ErrNotFound.
func (r *PropertyRepo) ByCoordinates(ctx context.Context, lon, lat float64) (model.Property, error) {
	const pt = `ST_SetSRID(ST_MakePoint($1, $2), 4326)`
	var p model.Property
	err := r.db.GetContext(ctx, &p, propertySelect+`
WHERE ST_Contains(p.geom, `+pt+`)
   OR ST_DWithin(p.geom::geography, `+pt+`::geography, `+fmt.Sprint(coordinateToleranceM)+`)
ORDER BY ST_Contains(p.geom, `+pt+`) DESC,
         ST_Distance(p.geom::geography, `+pt+`::geography)
LIMIT 1`, lon, lat)
	if err == nil {
		return r.backfillAddress(ctx, p)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Property{}, err
	}

	// No parcel in reach; fall back to a bare address point.
	err = r.db.GetContext(ctx, &p, `
SELECT 'ap:' || a.id::text AS key,
       '' AS parcel_key,
       COALESCE(a.full_address, '') AS address,
       '' AS owner_name,
       NULL::numeric AS market_value,
       '' AS zone_code,
       '' AS flood_zone,
       ST_X(a.geom) AS longitude,
       ST_Y(a.geom) AS latitude,
       'address_point' AS source
FROM address_points a
WHERE ST_DWithin(a.geom::geography, `+pt+`::geography, `+fmt.Sprint(coordinateToleranceM)+`)
ORDER BY ST_Distance(a.geom::geography, `+pt+`::geography)
LIMIT 1`, lon, lat)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Property{}, ErrNotFound
	}
	return p, err
}

// ByParcelKey resolves a single parcel by its normalized key.
func (r *PropertyRepo) ByParcelKey(ctx context.Context, key string) (model.Property, error) {
	var p model.Property
	err := r.db.GetContext(ctx, &p, propertySelect+`
WHERE `+normExpr("p.parcel_key")+` = $1
LIMIT 1`, search.Normalize(key))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Property{}, ErrNotFound
	}
	if err != nil {
		return model.Property{}, err
	}
	return r.backfillAddress(ctx, p)
}

var leadingHouseNumber = regexp.MustCompile(`^\s*\d`)

// backfillAddress applies the stale-address heuristic: a situs address with
// no leading house number is assumed stale or incomplete and is overridden
// by the nearest address point's label when one exists within tolerance.
func (r *PropertyRepo) backfillAddress(ctx context.Context, p model.Property) (model.Property, error) {
	if leadingHouseNumber.MatchString(p.Address) {
		return p, nil
	}
	var label string
	err := r.db.GetContext(ctx, &label, `
SELECT a.full_address
FROM address_points a
WHERE a.full_address IS NOT NULL
  AND ST_DWithin(a.geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, `+fmt.Sprint(backfillToleranceM)+`)
ORDER BY ST_Distance(a.geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography)
LIMIT 1`, p.Longitude, p.Latitude)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return model.Property{}, err
	}
	if label != "" {
		p.Address = label
	}
	return p, nil
}
