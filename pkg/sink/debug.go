package sink

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
)

// DebugDirName is the debug sub-directory of the output directory
const DebugDirName = "_debug"

// Debug writes intermediate stage images of each fov as 16-bit TIFFs
type Debug struct {
	Dir string
}

// NewDebug creates the debug directory if needed. An existing directory is reused.
func NewDebug(outputDir string) (*Debug, error) {
	dir := filepath.Join(outputDir, DebugDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create debug directory: %w", err)
	}
	return &Debug{Dir: dir}, nil
}

// WriteStage stores one stage image as <Dir>/<fov>_<stage>.tiff, min-max
// scaled to the full 16-bit range. Constant images are written as zeros.
func (d *Debug) WriteStage(fov, stage string, data []float64, width, height int) error {
	if len(data) != width*height {
		return fmt.Errorf("stage %s has %d pixels, expected %dx%d", stage, len(data), width, height)
	}
	path := filepath.Join(d.Dir, fmt.Sprintf("%s_%s.tiff", fov, stage))
	return writeTIFF(path, ToGray16(data, width, height))
}

// ToGray16 min-max scales data into a 16-bit grey image
func ToGray16(data []float64, width, height int) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, width, height))
	if len(data) == 0 {
		return img
	}
	lo, hi := floats.Min(data), floats.Max(data)
	if hi <= lo {
		return img
	}
	scale := 65535.0 / (hi - lo)
	for i, v := range data {
		u := uint16((v-lo)*scale + 0.5)
		img.Pix[2*i] = uint8(u >> 8)
		img.Pix[2*i+1] = uint8(u)
	}
	return img
}

// IntsToFloat converts a label or class image for debug output
func IntsToFloat(data []int) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}

// BoolsToFloat converts a mask for debug output
func BoolsToFloat(mask []bool) []float64 {
	out := make([]float64, len(mask))
	for i, v := range mask {
		if v {
			out[i] = 1
		}
	}
	return out
}
