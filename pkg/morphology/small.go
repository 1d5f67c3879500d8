package morphology

import (
	"fmt"

	"fiberseg/internal/models"
)

// RemoveSmallObjects returns a copy of labels in which every object with
// fewer than minSize pixels is set to background. Surviving labels keep
// their values; nothing is renumbered. A minSize of 0 or 1 keeps every
// object.
func RemoveSmallObjects(labels *models.LabelImage, minSize int) *models.LabelImage {
	out := &models.LabelImage{
		Data:   make([]int, len(labels.Data)),
		Width:  labels.Width,
		Height: labels.Height,
	}
	copy(out.Data, labels.Data)
	if minSize <= 1 {
		return out
	}

	sizes := AreaByLabel(labels)
	for i, v := range out.Data {
		if v > 0 && sizes[v] < minSize {
			out.Data[i] = 0
		}
	}
	return out
}

// AreaByLabel counts the pixels of every label; index 0 counts background
func AreaByLabel(labels *models.LabelImage) []int {
	maxLabel := 0
	for _, v := range labels.Data {
		if v > maxLabel {
			maxLabel = v
		}
	}
	sizes := make([]int, maxLabel+1)
	for _, v := range labels.Data {
		if v >= 0 {
			sizes[v]++
		}
	}
	return sizes
}

// MaskProduct multiplies a label image elementwise with a segmentation
// image of the same size. Used to apply a size-filtered label image as a
// mask, keeping the surviving label values verbatim.
func MaskProduct(labels *models.LabelImage, segmentation []int) (*models.LabelImage, error) {
	if len(segmentation) != len(labels.Data) {
		return nil, fmt.Errorf("segmentation has %d pixels, labels have %d", len(segmentation), len(labels.Data))
	}
	out := models.NewLabelImage(labels.Width, labels.Height)
	for i, v := range labels.Data {
		out.Data[i] = v * segmentation[i]
	}
	return out, nil
}
