// Package classify assigns a topical category to normalized article text with a pretrained
// multinomial naive Bayes model.
package classify

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/goccy/go-json"

	"github.com/thebtf/storyline/pkg/similarity"
)

var (
	// ErrInvalidModel is returned when a model file is structurally inconsistent.
	ErrInvalidModel = errors.New("invalid classifier model")
)

// Model is the serialized form of a fitted classifier.
//
// FeatureLogProb is indexed [class][feature], with feature indices taken from Vocabulary.
// When IDF is present, term counts are weighted by it and L2-normalized before scoring.
type Model struct {
	Vocabulary     map[string]int `json:"vocabulary"`
	Classes        []string       `json:"classes"`
	ClassLogPrior  []float64      `json:"class_log_prior"`
	FeatureLogProb [][]float64    `json:"feature_log_prob"`
	IDF            []float64      `json:"idf,omitempty"`
}

// Validate checks the model's dimensions.
func (m *Model) Validate() error {
	n := len(m.Classes)
	if n == 0 {
		return fmt.Errorf("%w: no classes", ErrInvalidModel)
	}
	if len(m.ClassLogPrior) != n || len(m.FeatureLogProb) != n {
		return fmt.Errorf("%w: %d classes, %d priors, %d likelihood rows",
			ErrInvalidModel, n, len(m.ClassLogPrior), len(m.FeatureLogProb))
	}
	features := len(m.Vocabulary)
	for i, row := range m.FeatureLogProb {
		if len(row) != features {
			return fmt.Errorf("%w: class %q has %d features, vocabulary has %d",
				ErrInvalidModel, m.Classes[i], len(row), features)
		}
	}
	if m.IDF != nil && len(m.IDF) != features {
		return fmt.Errorf("%w: idf has %d entries, vocabulary has %d", ErrInvalidModel, len(m.IDF), features)
	}
	for term, idx := range m.Vocabulary {
		if idx < 0 || idx >= features {
			return fmt.Errorf("%w: term %q has index %d", ErrInvalidModel, term, idx)
		}
	}
	return nil
}

// Classifier predicts categories. It is read-only after construction and safe for concurrent use.
type Classifier struct {
	model *Model
}

// New wraps a validated model.
func New(m *Model) (*Classifier, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil", ErrInvalidModel)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{model: m}, nil
}

// Load reads a JSON model file.
func Load(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classifier model: %w", err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse classifier model %s: %w", path, err)
	}
	return New(&m)
}

// Classes returns the category labels in model order.
func (c *Classifier) Classes() []string {
	return append([]string(nil), c.model.Classes...)
}

// Category returns the most probable category for normalized text.
// Text without known terms falls back to the class prior.
func (c *Classifier) Category(normalized string) string {
	scores := c.scores(normalized)
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return c.model.Classes[best]
}

func (c *Classifier) scores(normalized string) []float64 {
	m := c.model

	features := make(map[int]float64)
	for _, t := range similarity.Terms(normalized) {
		if idx, ok := m.Vocabulary[t]; ok {
			features[idx]++
		}
	}
	if m.IDF != nil && len(features) > 0 {
		var norm float64
		for idx, v := range features {
			w := v * m.IDF[idx]
			features[idx] = w
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for idx := range features {
				features[idx] /= norm
			}
		}
	}

	scores := make([]float64, len(m.Classes))
	for ci := range m.Classes {
		s := m.ClassLogPrior[ci]
		row := m.FeatureLogProb[ci]
		for idx, v := range features {
			s += v * row[idx]
		}
		scores[ci] = s
	}
	return scores
}
