package search

import (
	"sort"

	"github.com/openmetro/parcelview/internal/model"
)

// MatchFlags records which search strategies fired for a candidate row.
// The SQL layer computes these; ranking never re-examines the strings.
type MatchFlags struct {
	ExactKey      bool // normalized parcel key equals the query
	ExactAddress  bool // normalized address equals the query
	PrefixKey     bool // parcel key starts with the query
	PrefixAddress bool // address starts with the query
	Substring     bool // address contains the query
	Token         bool // every seed token appears in the address
	Fuzzy         bool // trigram similarity above threshold
	Owner         bool // owner name contains the query
}

// Candidate is one row produced by a search strategy before ranking.
type Candidate struct {
	Property model.Property
	Match    MatchFlags
}

// Result is a ranked, de-duplicated search hit.
type Result struct {
	model.Property
	Bucket int `json:"bucket"`
	Score  int `json:"score"`
}

// Relevance buckets, lower is better. Finer ordering inside a bucket uses
// the numeric score.
const (
	bucketExact     = 0
	bucketPrefix    = 1
	bucketSubstring = 2
	bucketToken     = 3
	bucketOwner     = 4
)

// Score weights per match class. The ordering exact > prefix > partial >
// token > owner is the contract; the literal values are tuning knobs.
const (
	weightExact  = 100
	weightPrefix = 40
	weightSubstr = 25
	weightToken  = 15
	weightOwner  = 8
)

// bucketOf assigns the coarse relevance tier from the strongest strategy
// that fired.
func bucketOf(m MatchFlags) int {
	switch {
	case m.ExactKey || m.ExactAddress:
		return bucketExact
	case m.PrefixKey || m.PrefixAddress:
		return bucketPrefix
	case m.Substring:
		return bucketSubstring
	case m.Token || m.Fuzzy:
		return bucketToken
	default:
		return bucketOwner
	}
}

// scoreOf sums the weights of every strategy that fired, so a row matched
// by several strategies outranks a same-bucket row matched by one.
func scoreOf(m MatchFlags) int {
	s := 0
	if m.ExactKey {
		s += weightExact
	}
	if m.ExactAddress {
		s += weightExact
	}
	if m.PrefixKey || m.PrefixAddress {
		s += weightPrefix
	}
	if m.Substring {
		s += weightSubstr
	}
	if m.Token || m.Fuzzy {
		s += weightToken
	}
	if m.Owner {
		s += weightOwner
	}
	return s
}

// Rank merges candidates from every source into one de-duplicated, ordered
// result list truncated to limit.
//
// De-duplication keeps, per stable key, the row with the best (lowest)
// bucket, then highest score, then highest market value, then the
// lexicographically smallest key. Final ordering is bucket ascending, score
// descending, parcel-sourced before address-point-sourced on exact ties,
// market value descending with nulls last, key ascending. Both rules are a
// contract: the same dataset and query must produce the same list on every
// call.
func Rank(cands []Candidate, limit int) []Result {
	best := make(map[string]Result, len(cands))
	for _, c := range cands {
		r := Result{Property: c.Property, Bucket: bucketOf(c.Match), Score: scoreOf(c.Match)}
		cur, ok := best[r.Key]
		if !ok || betterDuplicate(r, cur) {
			best[r.Key] = r
		}
	}

	out := make([]Result, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return orderBefore(out[i], out[j]) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// betterDuplicate reports whether a should replace b for the same key.
func betterDuplicate(a, b Result) bool {
	if a.Bucket != b.Bucket {
		return a.Bucket < b.Bucket
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	av, bv := marketValue(a), marketValue(b)
	if av != bv {
		return av > bv
	}
	return a.Key < b.Key
}

// orderBefore is the final ordering contract.
func orderBefore(a, b Result) bool {
	if a.Bucket != b.Bucket {
		return a.Bucket < b.Bucket
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	// Parcel-sourced results win exact ties against address-point-only rows.
	if a.Source != b.Source {
		return a.Source == model.SourceParcel
	}
	av, bv := marketValue(a), marketValue(b)
	if av != bv {
		return av > bv
	}
	return a.Key < b.Key
}

// marketValue treats a missing value as the lowest possible so nulls sort
// last under the descending comparison.
func marketValue(r Result) float64 {
	if r.MarketValue == nil {
		return -1
	}
	return *r.MarketValue
}
