package ngram

import (
	"fmt"
	"strings"
)

// Counts feeds a smoother with what the trie knows about one prediction.
type Counts struct {
	NGram      int64 // occurrences of context followed by the token
	Context    int64 // occurrences of context followed by anything
	Distinct   int   // distinct tokens seen after context
	Vocabulary int   // distinct tokens in the model
}

// Smoother defines the interface for n-gram probability smoothing algorithms
type Smoother interface {
	// Smooth interpolates the observed frequency with backoffProb, the
	// probability from the next lower order. Context is never zero.
	Smooth(c Counts, backoffProb float64) float64

	// Name returns the name of the smoothing algorithm
	Name() string
}

// AddKSmoother adds k pseudo-counts per vocabulary entry, distributed by
// the lower-order model.
type AddKSmoother struct {
	k float64
}

// NewAddKSmoother creates a new add-k smoother
func NewAddKSmoother(k float64) *AddKSmoother {
	if k <= 0 {
		k = 1.0 // Default to Laplace smoothing
	}
	return &AddKSmoother{k: k}
}

func (s *AddKSmoother) Smooth(c Counts, backoffProb float64) float64 {
	mass := s.k * float64(c.Vocabulary)
	return (float64(c.NGram) + mass*backoffProb) / (float64(c.Context) + mass)
}

func (s *AddKSmoother) Name() string {
	return "AddK"
}

// K returns the pseudo-count.
func (s *AddKSmoother) K() float64 {
	return s.k
}

// WittenBellSmoother reserves probability mass for unseen continuations in
// proportion to how many distinct continuations a context already has.
type WittenBellSmoother struct{}

// NewWittenBellSmoother creates a new Witten-Bell smoother
func NewWittenBellSmoother() *WittenBellSmoother {
	return &WittenBellSmoother{}
}

func (s *WittenBellSmoother) Smooth(c Counts, backoffProb float64) float64 {
	types := float64(c.Distinct)
	return (float64(c.NGram) + types*backoffProb) / (float64(c.Context) + types)
}

func (s *WittenBellSmoother) Name() string {
	return "WittenBell"
}

// NewSmoother returns the smoother for name, "addk" or "wittenbell" in any
// letter case. Smoother.Name values are accepted too.
func NewSmoother(name string, k float64) (Smoother, error) {
	switch strings.ToLower(name) {
	case "", "addk":
		return NewAddKSmoother(k), nil
	case "wittenbell":
		return NewWittenBellSmoother(), nil
	}
	return nil, fmt.Errorf("unknown smoothing %q", name)
}
