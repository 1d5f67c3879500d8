// Package ridge implements multi-scale Hessian based ridge filters that
// enhance elongated, curvilinear structures such as fibers.
package ridge

import (
	"math"
	"sort"
	"strings"

	"fiberseg/internal/models"
	"fiberseg/pkg/filters"
)

// Filter computes a non-negative ridge response image. sigmas are the
// ridge widths evaluated; blackRidges selects dark ridges on a light
// background instead of bright ridges on a dark one.
type Filter func(data []float64, width, height int, sigmas []float64, blackRidges bool) []float64

// DefaultFilter is the filter used when none is configured
const DefaultFilter = "meijering"

var registry = map[string]Filter{
	"meijering": Meijering,
	"sato":      Sato,
}

// Lookup returns the ridge filter registered under name
func Lookup(name string) (Filter, error) {
	f, ok := registry[name]
	if !ok {
		return nil, &models.ConfigError{
			Option: "ridge_filter",
			Value:  name,
			Reason: "unknown ridge filter, expected one of " + strings.Join(Names(), ", "),
		}
	}
	return f, nil
}

// Names lists the registered filters in alphabetical order
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Meijering is the neuriteness filter of Meijering et al. It combines the
// Hessian eigenvalues with alpha = 1/3, keeps the one with the larger
// magnitude, clips negative responses and normalizes every scale to a
// maximum of 1 before taking the pixelwise maximum over scales.
func Meijering(data []float64, width, height int, sigmas []float64, blackRidges bool) []float64 {
	const alpha = 1.0 / 3.0

	img := orient(data, blackRidges)
	filtered := make([]float64, len(data))
	vals := make([]float64, len(data))

	for _, sigma := range sigmas {
		l1, l2 := hessianEigenvalues(img, width, height, sigma)

		maxVal := 0.0
		for i := range vals {
			v1 := l1[i] + alpha*l2[i]
			v2 := alpha*l1[i] + l2[i]
			v := v1
			if math.Abs(v2) > math.Abs(v1) {
				v = v2
			}
			if v < 0 {
				v = 0
			}
			vals[i] = v
			if v > maxVal {
				maxVal = v
			}
		}

		for i, v := range vals {
			if maxVal > 0 {
				v /= maxVal
			}
			if v > filtered[i] {
				filtered[i] = v
			}
		}
	}

	return filtered
}

// Sato is the tubeness filter of Sato et al.: sigma^2 times the positive
// part of the largest Hessian eigenvalue, maximized over scales.
func Sato(data []float64, width, height int, sigmas []float64, blackRidges bool) []float64 {
	img := orient(data, blackRidges)
	filtered := make([]float64, len(data))

	for _, sigma := range sigmas {
		l1, _ := hessianEigenvalues(img, width, height, sigma)
		for i, v := range l1 {
			v = sigma * sigma * math.Max(v, 0)
			if v > filtered[i] {
				filtered[i] = v
			}
		}
	}

	return filtered
}

// orient negates the image for bright ridges, so ridges always show up as
// positive curvature across their width
func orient(data []float64, blackRidges bool) []float64 {
	if blackRidges {
		return data
	}
	neg := make([]float64, len(data))
	for i, v := range data {
		neg[i] = -v
	}
	return neg
}

// hessianEigenvalues returns the eigenvalues of the Gaussian-derivative
// Hessian at scale sigma, ordered so that l1 >= l2 at every pixel.
func hessianEigenvalues(data []float64, width, height int, sigma float64) ([]float64, []float64) {
	hrr := filters.GaussianDerivative(data, width, height, sigma, 2, 0)
	hrc := filters.GaussianDerivative(data, width, height, sigma, 1, 1)
	hcc := filters.GaussianDerivative(data, width, height, sigma, 0, 2)

	l1 := make([]float64, len(data))
	l2 := make([]float64, len(data))
	for i := range data {
		mean := (hrr[i] + hcc[i]) / 2
		half := (hrr[i] - hcc[i]) / 2
		d := math.Sqrt(half*half + hrc[i]*hrc[i])
		l1[i] = mean + d
		l2[i] = mean - d
	}
	return l1, l2
}
