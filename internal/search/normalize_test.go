package search

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"123 N. Main St.", "123 n main st"},
		{"  OAK--RIDGE  #4 ", "oak ridge 4"},
		{"R123456", "r123456"},
		{"...", ""},
		{"Smith, John & Jane", "smith john jane"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTokenSeedStripsStopWords(t *testing.T) {
	got := TokenSeed("123 n main st apt 4")
	want := []string{"123", "main", "4"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TokenSeed = %v, want %v", got, want)
	}
}

func TestTokenSeedFallsBackWhenAllStripped(t *testing.T) {
	// A query of pure street furniture must fall back to the unstripped
	// tokens instead of matching nothing.
	got := TokenSeed("north street")
	want := []string{"north", "street"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TokenSeed = %v, want %v", got, want)
	}
}

func TestTokenSeedEmpty(t *testing.T) {
	if got := TokenSeed(""); len(got) != 0 {
		t.Errorf("TokenSeed(\"\") = %v, want empty", got)
	}
}
