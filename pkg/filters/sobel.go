package filters

import "math"

var (
	sobelSmooth = []float64{0.25, 0.5, 0.25}
	sobelDiff   = []float64{1, 0, -1}
)

// Sobel returns the gradient magnitude sqrt((gy^2 + gx^2) / 2), where each
// directional response smooths with [1 2 1]/4 across and differentiates
// with [1 0 -1] along its axis.
func Sobel(data []float64, width, height int) []float64 {
	// horizontal edges: differentiate along rows, smooth along columns
	gy := correlateCols(correlateRows(data, width, height, sobelSmooth), width, height, sobelDiff)
	// vertical edges: differentiate along columns, smooth along rows
	gx := correlateCols(correlateRows(data, width, height, sobelDiff), width, height, sobelSmooth)

	out := make([]float64, len(data))
	for i := range out {
		out[i] = math.Sqrt((gy[i]*gy[i] + gx[i]*gx[i]) / 2)
	}
	return out
}
