// Package search implements the property search ranking engine. SQL
// supplies candidate rows with per-strategy match flags; this package owns
// query normalization, bucket and score assignment, merging of parcel and
// address-point candidates, and the final ordering contract.
package search

import (
	"regexp"
	"strings"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Normalize lowercases the query, collapses every run of non-alphanumeric
// characters to a single space and trims the ends. All matching — SQL and
// in-process — happens in this normalized space so "123 N. Main St." and
// "123 n main st" are the same query.
func Normalize(q string) string {
	q = strings.ToLower(q)
	q = nonAlnum.ReplaceAllString(q, " ")
	return strings.TrimSpace(q)
}

// stopWords are tokens that carry almost no selectivity in address queries:
// street-type abbreviations, directionals, unit designators and the state
// code. They are stripped from the token seed used for loose multi-token
// matching. The list is deliberately small; over-stripping turns "north
// street" into nothing useful.
var stopWords = map[string]bool{
	"st": true, "street": true, "ave": true, "avenue": true,
	"blvd": true, "boulevard": true, "dr": true, "drive": true,
	"ln": true, "lane": true, "rd": true, "road": true,
	"ct": true, "court": true, "cir": true, "circle": true,
	"pl": true, "place": true, "pkwy": true, "parkway": true,
	"hwy": true, "highway": true, "trl": true, "trail": true,
	"n": true, "s": true, "e": true, "w": true,
	"north": true, "south": true, "east": true, "west": true,
	"ne": true, "nw": true, "se": true, "sw": true,
	"apt": true, "unit": true, "ste": true, "suite": true,
	"tx": true,
}

// Tokens splits a normalized query into its raw tokens.
func Tokens(norm string) []string {
	if norm == "" {
		return nil
	}
	return strings.Fields(norm)
}

// TokenSeed returns the tokens used for loose multi-token matching: the
// normalized tokens with stop words removed. If stripping leaves nothing
// (the whole query was street furniture), it falls back to the unstripped
// tokens so a query like "north street" still matches something.
func TokenSeed(norm string) []string {
	all := Tokens(norm)
	seed := make([]string, 0, len(all))
	for _, t := range all {
		if !stopWords[t] {
			seed = append(seed, t)
		}
	}
	if len(seed) == 0 {
		return all
	}
	return seed
}
