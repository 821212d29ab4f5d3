package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  Velouté Potimarron  ", "veloute potimarron"},
		{"Onion, red.", "onion red"},
		{"POULET  RÔTI", "poulet roti"},
		{"", ""},
		{"...", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Normalize(tc.in), "Normalize(%q)", tc.in)
	}
}

func TestMatch(t *testing.T) {
	cases := []struct {
		name string
		a, b string
		want bool
	}{
		{"diacritics and case", "Velouté Potimarron", "veloute potimarron", true},
		{"unrelated", "Topinambours au vinaigre", "Ratatouille", false},
		{"containment", "Ratatouille", "Ratatouille (family recipe)", true},
		{"near miss above threshold", "poulet roti", "poulet rotie", true},
		{"both empty", "", "", true},
		{"empty vs non-empty", "", "Onion", false},
		{"punctuation only vs text", "...", "Onion", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Match(tc.a, tc.b, DefaultThreshold))
			assert.Equal(t, tc.want, Match(tc.b, tc.a, DefaultThreshold), "match must be symmetric")
		})
	}
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 1.0, Ratio("onion", "onion"))
	assert.Equal(t, 1.0, Ratio("", ""))
	assert.InDelta(t, 0.8, Ratio("onion", "onios"), 0.001)
	assert.Less(t, Ratio("topinambours", "ratatouille"), 0.5)
}
