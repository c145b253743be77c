// Package similarity provides text normalization and similarity utilities.
package similarity

import (
	"math"
	"regexp"
	"strings"
)

// termPattern matches terms of two or more word characters.
var termPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Vector is a sparse, L2-normalized TF-IDF row.
type Vector map[string]float64

// Terms extracts the vectorizer terms from a document: lowercase runs of two or more word characters.
func Terms(doc string) []string {
	return termPattern.FindAllString(strings.ToLower(doc), -1)
}

// TFIDF fits term weights over the whole corpus and returns one L2-normalized vector per
// document, in corpus order.
//
// Weights follow the usual smoothed scheme:
//
//	tf(t, d) = raw count of t in d
//	idf(t)   = ln((1 + n) / (1 + df(t))) + 1
//
// Documents without any term yield an empty vector.
func TFIDF(corpus []string) []Vector {
	n := len(corpus)
	counts := make([]map[string]int, n)
	df := make(map[string]int)

	for i, doc := range corpus {
		tc := make(map[string]int)
		for _, t := range Terms(doc) {
			tc[t]++
		}
		for t := range tc {
			df[t]++
		}
		counts[i] = tc
	}

	idf := make(map[string]float64, len(df))
	for t, d := range df {
		idf[t] = math.Log(float64(1+n)/float64(1+d)) + 1
	}

	vectors := make([]Vector, n)
	for i, tc := range counts {
		v := make(Vector, len(tc))
		var norm float64
		for t, c := range tc {
			w := float64(c) * idf[t]
			v[t] = w
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for t := range v {
				v[t] /= norm
			}
		}
		vectors[i] = v
	}
	return vectors
}

// Cosine returns the cosine similarity of two non-negative vectors, clamped to [0, 1].
// Zero vectors have similarity 0 with everything.
func Cosine(a, b Vector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}

	var dot, na, nb float64
	for t, w := range a {
		dot += w * b[t]
		na += w * w
	}
	for _, w := range b {
		nb += w * w
	}
	if na == 0 || nb == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	switch {
	case sim > 1:
		return 1
	case sim < 0:
		return 0
	}
	return sim
}

// TextSimilarity fits TF-IDF over the two texts alone and returns their cosine similarity.
func TextSimilarity(a, b string) float64 {
	v := TFIDF([]string{a, b})
	return Cosine(v[0], v[1])
}
