// Package sink writes segmentation results: label images, the fiber object
// table and debug stage images.
package sink

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"

	"fiberseg/internal/models"
)

// MaxLabel is the largest label a 16-bit label TIFF can hold
const MaxLabel = math.MaxUint16

// LabelsFileName returns the label image file name of a fov
func LabelsFileName(fov string) string {
	return fov + "_fiber_labels.tiff"
}

// TableSink stores a fiber object table
type TableSink interface {
	WriteTable(ctx context.Context, table *models.FiberObjectTable) error
}

// WriteLabels encodes labels as a Deflate-compressed 16-bit grey TIFF.
// Labels above MaxLabel cannot be represented and are reported as an error.
func WriteLabels(path string, labels *models.LabelImage) error {
	img := image.NewGray16(image.Rect(0, 0, labels.Width, labels.Height))
	for i, v := range labels.Data {
		if v < 0 || v > MaxLabel {
			return fmt.Errorf("label %d at pixel %d does not fit in 16 bits", v, i)
		}
		img.Pix[2*i] = uint8(v >> 8)
		img.Pix[2*i+1] = uint8(v)
	}
	return writeTIFF(path, img)
}

// ReadLabels decodes a label TIFF written by WriteLabels
func ReadLabels(path string) (*models.LabelImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	b := img.Bounds()
	labels := models.NewLabelImage(b.Dx(), b.Dy())
	gray, ok := img.(*image.Gray16)
	if !ok {
		return nil, fmt.Errorf("%s is %T, expected 16-bit grey", path, img)
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			labels.Data[y*labels.Width+x] = int(gray.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
		}
	}
	return labels, nil
}

// WriteLabelDir writes every label image of a run into dir
func WriteLabelDir(dir string, images map[string]*models.LabelImage) error {
	for fov, labels := range images {
		if err := WriteLabels(filepath.Join(dir, LabelsFileName(fov)), labels); err != nil {
			return fmt.Errorf("fov %s: %w", fov, err)
		}
	}
	return nil
}

func writeTIFF(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
