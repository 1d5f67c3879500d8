// Package filters provides the pure-Go image filters used by the fiber
// segmentation stages: Gaussian smoothing and derivatives, contrast limited
// adaptive histogram equalization and the Sobel gradient magnitude.
//
// Images are row-major []float64 buffers with explicit width and height.
// All filters treat borders by half-sample reflection (d c b a | a b c d).
package filters

import (
	"math"
)

// truncate is the number of standard deviations covered by a Gaussian kernel
const truncate = 4.0

// Gaussian applies an isotropic Gaussian blur with the given sigma.
// A sigma of zero returns a copy of the input.
func Gaussian(data []float64, width, height int, sigma float64) []float64 {
	return GaussianDerivative(data, width, height, sigma, 0, 0)
}

// GaussianDerivative convolves the image with a Gaussian derivative kernel.
// orderY and orderX select the derivative order (0, 1 or 2) along rows
// and columns respectively.
func GaussianDerivative(data []float64, width, height int, sigma float64, orderY, orderX int) []float64 {
	if sigma <= 0 {
		out := make([]float64, len(data))
		copy(out, data)
		return out
	}

	kx := gaussianKernel1D(sigma, orderX)
	ky := gaussianKernel1D(sigma, orderY)

	tmp := correlateRows(data, width, height, kx)
	return correlateCols(tmp, width, height, ky)
}

// gaussianKernel1D builds a sampled Gaussian (derivative) kernel already
// flipped for correlation, so correlating with it convolves with the
// derivative of the Gaussian.
func gaussianKernel1D(sigma float64, order int) []float64 {
	radius := int(truncate*sigma + 0.5)
	size := 2*radius + 1
	kernel := make([]float64, size)

	sigma2 := sigma * sigma
	sum := 0.0
	for i := 0; i < size; i++ {
		x := float64(i - radius)
		kernel[i] = math.Exp(-0.5 * x * x / sigma2)
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	switch order {
	case 1:
		// d/dx of the Gaussian is -x/sigma^2 * phi; flipping for correlation
		// turns it into +x/sigma^2 * phi
		for i := range kernel {
			x := float64(i - radius)
			kernel[i] *= x / sigma2
		}
	case 2:
		// the second derivative is symmetric, no flip needed
		for i := range kernel {
			x := float64(i - radius)
			kernel[i] *= (x*x - sigma2) / (sigma2 * sigma2)
		}
	}

	return kernel
}

// reflectIndex maps an out-of-range index onto [0, size) by half-sample
// symmetric reflection.
func reflectIndex(idx, size int) int {
	if size == 1 {
		return 0
	}
	period := 2 * size
	idx %= period
	if idx < 0 {
		idx += period
	}
	if idx >= size {
		idx = period - idx - 1
	}
	return idx
}

// correlateRows correlates every row with kernel
func correlateRows(data []float64, width, height int, kernel []float64) []float64 {
	out := make([]float64, len(data))
	half := len(kernel) / 2

	for y := 0; y < height; y++ {
		row := data[y*width : (y+1)*width]
		dst := out[y*width : (y+1)*width]
		for x := 0; x < width; x++ {
			var sum float64
			if x >= half && x+half < width {
				base := x - half
				for k, w := range kernel {
					sum += row[base+k] * w
				}
			} else {
				for k, w := range kernel {
					sum += row[reflectIndex(x+k-half, width)] * w
				}
			}
			dst[x] = sum
		}
	}

	return out
}

// correlateCols correlates every column with kernel
func correlateCols(data []float64, width, height int, kernel []float64) []float64 {
	out := make([]float64, len(data))
	half := len(kernel) / 2
	rowOffs := make([]int, len(kernel))

	for y := 0; y < height; y++ {
		for k := range kernel {
			rowOffs[k] = reflectIndex(y+k-half, height) * width
		}
		dst := out[y*width : (y+1)*width]
		for x := 0; x < width; x++ {
			var sum float64
			for k, w := range kernel {
				sum += data[rowOffs[k]+x] * w
			}
			dst[x] = sum
		}
	}

	return out
}
