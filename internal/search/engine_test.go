package search

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/openmetro/parcelview/internal/model"
)

type fakeSource struct {
	cands   []Candidate
	lastQ   Query
	failErr error
}

func (f *fakeSource) SearchParcels(_ context.Context, q Query) ([]Candidate, error) {
	f.lastQ = q
	return f.cands, f.failErr
}

func (f *fakeSource) SearchAddressPoints(_ context.Context, q Query) ([]Candidate, error) {
	f.lastQ = q
	return f.cands, f.failErr
}

type fakeSink struct {
	mu     sync.Mutex
	events []string
	metas  []map[string]any
}

func (f *fakeSink) Log(eventType string, _ *uint64, metadata map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	f.metas = append(f.metas, metadata)
}

func TestEngineRejectsBadQueryLength(t *testing.T) {
	e := NewEngine(&fakeSource{}, &fakeSource{}, nil)
	if _, err := e.Search(context.Background(), "x", 10, nil); !errors.Is(err, ErrQueryLength) {
		t.Errorf("short query: err = %v, want ErrQueryLength", err)
	}
	long := strings.Repeat("a", 121)
	if _, err := e.Search(context.Background(), long, 10, nil); !errors.Is(err, ErrQueryLength) {
		t.Errorf("long query: err = %v, want ErrQueryLength", err)
	}
	// Punctuation-only queries normalize to nothing.
	if _, err := e.Search(context.Background(), "!!", 10, nil); !errors.Is(err, ErrQueryLength) {
		t.Errorf("punctuation query: err = %v, want ErrQueryLength", err)
	}
}

func TestEngineLengthBoundsCountRunes(t *testing.T) {
	e := NewEngine(&fakeSource{}, &fakeSource{}, nil)

	// 62 runes but 122 bytes: within the limit when counted as characters.
	accented := strings.Repeat("é", 60) + "12"
	if _, err := e.Search(context.Background(), accented, 10, nil); err != nil {
		t.Errorf("62-rune accented query: err = %v, want nil", err)
	}
	// 121 runes is over the ceiling regardless of encoding.
	if _, err := e.Search(context.Background(), strings.Repeat("é", 121), 10, nil); !errors.Is(err, ErrQueryLength) {
		t.Errorf("121-rune query: err = %v, want ErrQueryLength", err)
	}
}

func TestEngineExactParcelKeyRanksFirst(t *testing.T) {
	parcels := &fakeSource{cands: []Candidate{
		{
			Property: model.Property{Key: "R1234", ParcelKey: "R1234", Source: model.SourceParcel},
			Match:    MatchFlags{ExactKey: true},
		},
		{
			Property: model.Property{Key: "R9999", ParcelKey: "R9999", OwnerName: "r1234 holdings", Source: model.SourceParcel},
			Match:    MatchFlags{Owner: true},
		},
	}}
	points := &fakeSource{}
	e := NewEngine(parcels, points, nil)

	got, err := e.Search(context.Background(), "R1234", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Key != "R1234" {
		t.Errorf("first result = %q, want exact parcel key match R1234", got[0].Key)
	}
}

func TestEngineIncludesAddressPointSynthetic(t *testing.T) {
	// A misspelled street address with no parcel hit must still surface
	// the nearby address point as a synthetic result.
	parcels := &fakeSource{}
	points := &fakeSource{cands: []Candidate{
		{
			Property: model.Property{Key: "ap:77", Address: "418 Oakrige Dr", Source: model.SourceAddressPoint},
			Match:    MatchFlags{Token: true, Fuzzy: true},
		},
	}}
	e := NewEngine(parcels, points, nil)

	got, err := e.Search(context.Background(), "418 oakridge drive", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Key != "ap:77" {
		t.Fatalf("results = %+v, want the ap:77 synthetic row", got)
	}
	if got[0].Bucket != 3 {
		t.Errorf("bucket = %d, want token tier per the bucket rules", got[0].Bucket)
	}
}

func TestEngineDeterministicAcrossCalls(t *testing.T) {
	parcels := &fakeSource{cands: []Candidate{
		cand("A", model.SourceParcel, fv(1), MatchFlags{Substring: true}),
		cand("B", model.SourceParcel, fv(2), MatchFlags{Substring: true}),
	}}
	e := NewEngine(parcels, &fakeSource{}, nil)

	first, err := e.Search(context.Background(), "main st", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := e.Search(context.Background(), "main st", 10, nil)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if !reflect.DeepEqual(keysOf(first), keysOf(again)) {
			t.Fatal("same query and dataset must produce the same ordered list")
		}
	}
}

func TestEngineLogsEveryCall(t *testing.T) {
	sink := &fakeSink{}
	e := NewEngine(&fakeSource{}, &fakeSource{}, sink)

	if _, err := e.Search(context.Background(), "no hits here", 10, nil); err != nil {
		t.Fatalf("Search: %v", err)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 1 || sink.events[0] != model.EventPropertySearch {
		t.Fatalf("events = %v, want one property.search", sink.events)
	}
	if sink.metas[0]["results"] != 0 {
		t.Errorf("results meta = %v, want 0 (misses are logged too)", sink.metas[0]["results"])
	}
}

func TestEngineTokenSeedReachesSources(t *testing.T) {
	parcels := &fakeSource{}
	e := NewEngine(parcels, &fakeSource{}, nil)

	if _, err := e.Search(context.Background(), "123 N Main St", 10, nil); err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []string{"123", "main"}
	if !reflect.DeepEqual(parcels.lastQ.Tokens, want) {
		t.Errorf("tokens = %v, want %v", parcels.lastQ.Tokens, want)
	}
	if parcels.lastQ.Normalized != "123 n main st" {
		t.Errorf("normalized = %q", parcels.lastQ.Normalized)
	}
}
