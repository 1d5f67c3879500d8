// Package morphology implements binary and label image operations: the
// Euclidean distance transform, connected component labeling, marker
// controlled watershed and small object removal.
package morphology

import (
	"math"

	"fiberseg/internal/models"
)

// DistanceTransform computes, for every foreground pixel of mask, the exact
// Euclidean distance to the nearest background pixel. Background pixels
// are 0. A mask without any background pixel has no finite distances and
// is reported as degenerate.
//
// The transform runs the lower-envelope-of-parabolas algorithm of
// Felzenszwalb and Huttenlocher along columns and then along rows.
func DistanceTransform(mask []bool, width, height int) ([]float64, error) {
	hasBackground := false
	for _, fg := range mask {
		if !fg {
			hasBackground = true
			break
		}
	}
	if !hasBackground {
		return nil, models.Degenerate("mask has no background pixels")
	}

	// any real squared distance is smaller than this
	far := float64(width*width+height*height) + 1

	sq := make([]float64, len(mask))
	for i, fg := range mask {
		if fg {
			sq[i] = far
		}
	}

	n := max(width, height)
	f := make([]float64, n)
	d := make([]float64, n)
	v := make([]int, n)
	z := make([]float64, n+1)

	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			f[y] = sq[y*width+x]
		}
		envelope(f[:height], d[:height], v, z)
		for y := 0; y < height; y++ {
			sq[y*width+x] = d[y]
		}
	}

	for y := 0; y < height; y++ {
		row := sq[y*width : (y+1)*width]
		copy(f[:width], row)
		envelope(f[:width], d[:width], v, z)
		copy(row, d[:width])
	}

	out := make([]float64, len(sq))
	for i, s := range sq {
		out[i] = math.Sqrt(s)
	}
	return out, nil
}

// envelope computes the 1-D squared distance transform of f into d
func envelope(f, d []float64, v []int, z []float64) {
	n := len(f)
	k := 0
	v[0] = 0
	z[0] = math.Inf(-1)
	z[1] = math.Inf(1)

	for q := 1; q < n; q++ {
		s := intersect(f, q, v[k])
		for s <= z[k] {
			k--
			s = intersect(f, q, v[k])
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}

	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < float64(q) {
			k++
		}
		dq := float64(q - v[k])
		d[q] = dq*dq + f[v[k]]
	}
}

// intersect returns the abscissa where the parabolas rooted at q and p meet
func intersect(f []float64, q, p int) float64 {
	fq, fp := f[q]+float64(q*q), f[p]+float64(p*p)
	return (fq - fp) / float64(2*q-2*p)
}
