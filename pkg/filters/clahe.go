package filters

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"fiberseg/internal/models"
)

const (
	// grayLevels is the number of grey levels the input is quantized to
	// before histograms are computed
	grayLevels = 1 << 14

	// DefaultClipLimit is the fraction of a tile's pixels a histogram bin
	// may hold before it is clipped
	DefaultClipLimit = 0.01

	// DefaultBins is the number of histogram bins per tile
	DefaultBins = 256
)

// EqualizeAdaptHist performs contrast limited adaptive histogram
// equalization (CLAHE). The image is divided into square tiles of
// kernelSize pixels; each tile gets a clipped-histogram equalization
// mapping and every pixel is mapped by bilinear interpolation between the
// four nearest tile mappings. The result is rescaled to [0, 1].
func EqualizeAdaptHist(data []float64, width, height, kernelSize int, clipLimit float64, nbins int) ([]float64, error) {
	if kernelSize < 1 {
		return nil, &models.ConfigError{
			Option: "contrast tile size",
			Value:  kernelSize,
			Reason: "must be at least one pixel",
		}
	}
	if nbins < 2 {
		return nil, fmt.Errorf("histogram needs at least 2 bins, got %d", nbins)
	}
	if len(data) != width*height || len(data) == 0 {
		return nil, fmt.Errorf("image buffer has %d pixels, expected %dx%d", len(data), width, height)
	}

	lo, hi := floats.Min(data), floats.Max(data)
	if hi == lo {
		return nil, models.Degenerate("uniform image cannot be equalized")
	}

	// Quantize to grey levels, then to histogram bins
	binSize := 1 + grayLevels/nbins
	bins := make([]int, len(data))
	scale := float64(grayLevels-1) / (hi - lo)
	for i, v := range data {
		level := int((v-lo)*scale + 0.5)
		bins[i] = level / binSize
	}
	nbins = (grayLevels-1)/binSize + 1

	tileH := min(kernelSize, height)
	tileW := min(kernelSize, width)
	tilesY := (height + tileH - 1) / tileH
	tilesX := (width + tileW - 1) / tileW

	// Build the equalization mapping of every tile
	maps := make([][]float64, tilesY*tilesX)
	hist := make([]float64, nbins)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			for b := range hist {
				hist[b] = 0
			}
			y0, y1 := ty*tileH, min((ty+1)*tileH, height)
			x0, x1 := tx*tileW, min((tx+1)*tileW, width)
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					hist[bins[y*width+x]]++
				}
			}
			n := float64((y1 - y0) * (x1 - x0))
			clipHistogram(hist, math.Max(clipLimit*n, 1))

			mapping := make([]float64, nbins)
			floats.CumSum(mapping, hist)
			floats.Scale(1/n, mapping)
			maps[ty*tilesX+tx] = mapping
		}
	}

	out := make([]float64, len(data))
	for y := 0; y < height; y++ {
		ty0, ty1, wy := tileNeighbours(y, tileH, tilesY)
		for x := 0; x < width; x++ {
			tx0, tx1, wx := tileNeighbours(x, tileW, tilesX)
			b := bins[y*width+x]

			top := (1-wx)*maps[ty0*tilesX+tx0][b] + wx*maps[ty0*tilesX+tx1][b]
			bottom := (1-wx)*maps[ty1*tilesX+tx0][b] + wx*maps[ty1*tilesX+tx1][b]
			out[y*width+x] = (1-wy)*top + wy*bottom
		}
	}

	rescaleUnit(out)
	return out, nil
}

// clipHistogram clips every bin at limit and spreads the excess evenly
// over all bins
func clipHistogram(hist []float64, limit float64) {
	excess := 0.0
	for b, v := range hist {
		if v > limit {
			excess += v - limit
			hist[b] = limit
		}
	}
	if excess == 0 {
		return
	}
	floats.AddConst(excess/float64(len(hist)), hist)
}

// tileNeighbours returns the two tiles whose centres bracket pos along one
// axis and the interpolation weight of the second one
func tileNeighbours(pos, tileSize, tiles int) (int, int, float64) {
	f := (float64(pos)+0.5)/float64(tileSize) - 0.5
	if f <= 0 {
		return 0, 0, 0
	}
	i0 := int(f)
	if i0 >= tiles-1 {
		return tiles - 1, tiles - 1, 0
	}
	return i0, i0 + 1, f - float64(i0)
}

// rescaleUnit stretches values to [0, 1] in place; flat input is left as is
func rescaleUnit(data []float64) {
	lo, hi := floats.Min(data), floats.Max(data)
	if hi == lo {
		return
	}
	floats.AddConst(-lo, data)
	floats.Scale(1/(hi-lo), data)
}
