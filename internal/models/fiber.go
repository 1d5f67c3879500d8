package models

import (
	"fmt"
	"math"
	"slices"
)

// Image represents a single channel of one field of view
type Image struct {
	// Data holds the pixel intensities in row-major order
	Data []float64

	// Width is the number of columns
	Width int

	// Height is the number of rows
	Height int

	// FOV is the field-of-view identifier the image was loaded from
	FOV string

	// Channel is the channel name, e.g. "Collagen1"
	Channel string
}

// NewImage creates a zero-filled image with the given dimensions
func NewImage(width, height int) *Image {
	return &Image{
		Data:   make([]float64, width*height),
		Width:  width,
		Height: height,
	}
}

// At returns the intensity at row y, column x
func (img *Image) At(y, x int) float64 {
	return img.Data[y*img.Width+x]
}

// Validate checks that the pixel buffer matches the dimensions
func (img *Image) Validate() error {
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d", img.Width, img.Height)
	}
	if len(img.Data) != img.Width*img.Height {
		return fmt.Errorf("image buffer has %d pixels, expected %dx%d", len(img.Data), img.Width, img.Height)
	}
	return nil
}

// LabelImage is an integer image where 0 is background and positive
// values identify objects. Identifiers are only unique within one fov.
type LabelImage struct {
	// Data holds the labels in row-major order
	Data []int

	// Width, Height are the dimensions of the label image
	Width, Height int
}

// NewLabelImage creates an all-background label image
func NewLabelImage(width, height int) *LabelImage {
	return &LabelImage{
		Data:   make([]int, width*height),
		Width:  width,
		Height: height,
	}
}

// Labels returns the distinct non-zero labels in ascending order
func (l *LabelImage) Labels() []int {
	maxLabel := 0
	for _, v := range l.Data {
		if v > maxLabel {
			maxLabel = v
		}
	}
	seen := make([]bool, maxLabel+1)
	for _, v := range l.Data {
		if v > 0 {
			seen[v] = true
		}
	}
	var labels []int
	for v := 1; v <= maxLabel; v++ {
		if seen[v] {
			labels = append(labels, v)
		}
	}
	return labels
}

// FiberObject is one row of the fiber object table: the measured
// properties of a single labeled object within one fov.
type FiberObject struct {
	// FOV is the owning field of view
	FOV string

	// Label is the object's value in the fov's label image
	Label int

	// Values holds one value per table column, in column order
	Values []float64
}

// FiberObjectTable collects fiber objects from every processed fov.
// Row order follows fov processing order, then ascending label.
type FiberObjectTable struct {
	// Columns names the property columns, excluding the fov column
	Columns []string

	// Rows holds the objects
	Rows []FiberObject
}

// Append adds the rows of other to the table. Both tables must share columns.
func (t *FiberObjectTable) Append(other *FiberObjectTable) error {
	if other == nil {
		return nil
	}
	if t.Columns == nil {
		t.Columns = append([]string(nil), other.Columns...)
	} else if !slices.Equal(t.Columns, other.Columns) {
		return fmt.Errorf("column mismatch: %v vs %v", t.Columns, other.Columns)
	}
	t.Rows = append(t.Rows, other.Rows...)
	return nil
}

// RowsForFOV returns the rows belonging to a single fov
func (t *FiberObjectTable) RowsForFOV(fov string) []FiberObject {
	var rows []FiberObject
	for _, r := range t.Rows {
		if r.FOV == fov {
			rows = append(rows, r)
		}
	}
	return rows
}

// Column returns the index of the named column, or -1
func (t *FiberObjectTable) Column(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// NumericVector returns the row values as float32 with non-finite values
// zeroed, which is the
// representation used for similarity search.
func (o FiberObject) NumericVector() []float32 {
	vec := make([]float32, 0, len(o.Values))
	for _, v := range o.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		vec = append(vec, float32(v))
	}
	return vec
}
