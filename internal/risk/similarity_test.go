package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarityRatio(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{"identical", "device-abc123", "device-abc123", 1.0},
		{"both empty", "", "", 1.0},
		{"one empty", "device-abc123", "", 0.0},
		{"classic pair", "abcd", "bcde", 0.75},
		{"near fingerprint", "kitten", "sitting", 8.0 / 13.0},
		{"disjoint", "aaaa", "bbbb", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SimilarityRatio(tt.a, tt.b), 1e-9)
		})
	}
}

func TestSimilarityRatio_Symmetric(t *testing.T) {
	a, b := "fp-chrome-120-macos", "fp-chrome-121-macos"
	assert.InDelta(t, SimilarityRatio(a, b), SimilarityRatio(b, a), 1e-9)
	assert.Greater(t, SimilarityRatio(a, b), 0.8)
}
