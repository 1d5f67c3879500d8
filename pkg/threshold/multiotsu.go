// Package threshold computes histogram based intensity cutoffs.
package threshold

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"

	"fiberseg/internal/models"
)

const (
	// DefaultMethod is the thresholding method used by the pipeline
	DefaultMethod = "multiotsu"

	// DefaultBins is the histogram resolution used for threshold search
	DefaultBins = 256
)

// Method computes classes-1 ascending cutoffs splitting values into classes
type Method func(values []float64, classes int) ([]float64, error)

var registry = map[string]Method{
	"multiotsu": func(values []float64, classes int) ([]float64, error) {
		return MultiOtsu(values, classes, DefaultBins)
	},
}

// Lookup returns the thresholding method registered under name
func Lookup(name string) (Method, error) {
	m, ok := registry[name]
	if !ok {
		return nil, &models.ConfigError{
			Option: "threshold_method",
			Value:  name,
			Reason: "unknown thresholding method, expected one of " + strings.Join(Names(), ", "),
		}
	}
	return m, nil
}

// Names lists the registered methods in alphabetical order
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MultiOtsu returns the classes-1 thresholds maximizing the between-class
// variance of a nbins histogram over [min, max]. Thresholds are histogram
// bin centres. The search is exhaustive and visits threshold tuples in
// lexicographic order, keeping the first maximum, so the result is fully
// deterministic.
func MultiOtsu(values []float64, classes, nbins int) ([]float64, error) {
	if classes < 2 {
		return nil, fmt.Errorf("multi-otsu needs at least 2 classes, got %d", classes)
	}
	if nbins < classes {
		return nil, fmt.Errorf("multi-otsu needs at least %d bins, got %d", classes, nbins)
	}
	if len(values) == 0 {
		return nil, models.Degenerate("no values to threshold")
	}

	hist, centers, err := histogram(values, nbins)
	if err != nil {
		return nil, err
	}

	occupied := 0
	for _, c := range hist {
		if c > 0 {
			occupied++
		}
	}
	if occupied < classes {
		return nil, models.Degenerate("only %d distinct histogram values, cannot split into %d classes", occupied, classes)
	}

	// zeroth and first cumulative moments, indexed so that the sum over
	// bins [a, b] is cum[b+1] - cum[a]
	zeroth := make([]float64, nbins+1)
	first := make([]float64, nbins+1)
	weighted := make([]float64, nbins)
	for i, c := range hist {
		weighted[i] = c * float64(i)
	}
	floats.CumSum(zeroth[1:], hist)
	floats.CumSum(first[1:], weighted)

	s := &search{
		zeroth: zeroth,
		first:  first,
		nbins:  nbins,
		cur:    make([]int, classes-1),
		best:   make([]int, classes-1),
		score:  -1,
	}
	s.run(0, 0, 0)

	thresholds := make([]float64, classes-1)
	for i, idx := range s.best {
		thresholds[i] = centers[idx]
	}
	return thresholds, nil
}

// Classify splits values at two cutoffs: 1 below lower, 2 above upper and
// 0 for the band in between.
func Classify(values []float64, lower, upper float64) []int {
	classes := make([]int, len(values))
	for i, v := range values {
		switch {
		case v < lower:
			classes[i] = 1
		case v > upper:
			classes[i] = 2
		}
	}
	return classes
}

// histogram counts values into nbins equal-width bins over [min, max]; the
// last bin includes the maximum
func histogram(values []float64, nbins int) ([]float64, []float64, error) {
	lo, hi := floats.Min(values), floats.Max(values)
	if hi == lo {
		return nil, nil, models.Degenerate("all values equal %g", lo)
	}

	width := (hi - lo) / float64(nbins)
	hist := make([]float64, nbins)
	for _, v := range values {
		b := int((v - lo) / width)
		if b >= nbins {
			b = nbins - 1
		}
		hist[b]++
	}

	centers := make([]float64, nbins)
	for i := range centers {
		centers[i] = lo + (float64(i)+0.5)*width
	}
	return hist, centers, nil
}

type search struct {
	zeroth, first []float64
	nbins         int
	cur, best     []int
	score         float64
}

// run places threshold k somewhere after bin start. partial is the score
// of the classes already closed.
func (s *search) run(k, start int, partial float64) {
	remaining := len(s.cur) - k
	for idx := start; idx <= s.nbins-1-remaining; idx++ {
		s.cur[k] = idx
		score := partial + s.classScore(start, idx)
		if k == len(s.cur)-1 {
			score += s.classScore(idx+1, s.nbins-1)
			if score > s.score {
				s.score = score
				copy(s.best, s.cur)
			}
			continue
		}
		s.run(k+1, idx+1, score)
	}
}

// classScore is first^2 / zeroth over bins [a, b], the class contribution
// to the between-class variance up to constants
func (s *search) classScore(a, b int) float64 {
	w := s.zeroth[b+1] - s.zeroth[a]
	if w == 0 {
		return 0
	}
	m := s.first[b+1] - s.first[a]
	return m * m / w
}
