// Package similarity provides text normalization and similarity utilities.
package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "drops stopwords and punctuation",
			input:    "The stock market, it rises!",
			expected: "stock market rise",
		},
		{
			name:     "stems words",
			input:    "Stocks jumped sharply",
			expected: "stock jump sharpli",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
		{
			name:     "only stopwords",
			input:    "and the of it",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	text := "Central banks raised interest rates again on Thursday."
	assert.Equal(t, Normalize(text), Normalize(text))
}

func TestTokenCount(t *testing.T) {
	assert.Equal(t, 0, TokenCount(""))
	assert.Equal(t, 0, TokenCount("   "))
	assert.Equal(t, 3, TokenCount("stock  market\trise"))
}

func TestTFIDF_RowsAreNormalized(t *testing.T) {
	vectors := TFIDF([]string{"stock market rise", "stock market rise sharpli", "weather rain"})
	require.Len(t, vectors, 3)

	for _, v := range vectors {
		var sum float64
		for _, w := range v {
			sum += w * w
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestTFIDF_EmptyDocument(t *testing.T) {
	vectors := TFIDF([]string{"", "stock market"})
	require.Len(t, vectors, 2)
	assert.Empty(t, vectors[0])
	assert.Equal(t, 0.0, Cosine(vectors[0], vectors[1]))
}

func TestCosine_Properties(t *testing.T) {
	texts := []string{
		"stock market rise",
		"stock market rise sharpli",
		"elect result announc tonight",
		"market tumbl elect result",
	}
	vectors := TFIDF(texts)

	for i := range vectors {
		for j := range vectors {
			sim := Cosine(vectors[i], vectors[j])
			assert.GreaterOrEqual(t, sim, 0.0)
			assert.LessOrEqual(t, sim, 1.0)
			assert.InDelta(t, sim, Cosine(vectors[j], vectors[i]), 1e-12, "cosine must be symmetric")
		}
		assert.InDelta(t, 1.0, Cosine(vectors[i], vectors[i]), 1e-9)
	}
}

func TestTextSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, TextSimilarity("stock market rise", "stock market rise"), 1e-9)
	assert.Equal(t, 0.0, TextSimilarity("stock market", "weather rain"))

	a := Normalize("stock market rises")
	b := Normalize("stock market rises sharply")
	assert.Greater(t, TextSimilarity(a, b), 0.5)
}
