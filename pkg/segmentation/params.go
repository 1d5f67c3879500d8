package segmentation

import (
	"math/bits"

	"fiberseg/internal/models"
	"fiberseg/pkg/regionprops"
	"fiberseg/pkg/ridge"
	"fiberseg/pkg/threshold"
)

// Params holds the tunable parameters of the fiber segmentation.
// The defaults are tuned for collagen stains imaged at roughly 1024x1024.
type Params struct {
	// Channel is the name of the channel containing fibers
	Channel string

	// Blur is the sigma of the initial Gaussian blur
	Blur float64

	// ContrastScalingDivisor sets the adaptive histogram tile size to
	// image height / divisor. Smaller values give a larger tile and a more
	// global contrast adjustment. Must be a power of two.
	ContrastScalingDivisor int

	// FiberWidths are the ridge filter scales, in pixels
	FiberWidths []float64

	// RidgeCutoff is the ridge filter response above which a pixel counts as ridge
	RidgeCutoff float64

	// SobelBlur is the sigma of the blur applied before the Sobel elevation map
	SobelBlur float64

	// MinFiberSize is the smallest object area, in pixels, that is kept
	MinFiberSize int

	// ObjectProperties are the region properties measured for every fiber
	ObjectProperties []string

	// RidgeFilter names the ridge filter, see ridge.Names
	RidgeFilter string

	// ThresholdMethod names the watershed marker threshold, see threshold.Names
	ThresholdMethod string

	// Debug writes intermediate stage images into <OutputDir>/_debug
	Debug bool

	// Workers is the number of fovs processed concurrently
	Workers int

	// OutputDir receives the label images and the fiber object table.
	// It must exist before a run starts.
	OutputDir string
}

// DefaultParams returns the default segmentation parameters for a channel
func DefaultParams(channel string) Params {
	return Params{
		Channel:                channel,
		Blur:                   2,
		ContrastScalingDivisor: 128,
		FiberWidths:            []float64{2, 4},
		RidgeCutoff:            0.1,
		SobelBlur:              1,
		MinFiberSize:           15,
		ObjectProperties:       append([]string(nil), regionprops.DefaultProperties...),
		RidgeFilter:            ridge.DefaultFilter,
		ThresholdMethod:        threshold.DefaultMethod,
		Workers:                1,
	}
}

// Validate reports the first parameter outside its allowed range as a
// *models.ConfigError
func (p *Params) Validate() error {
	switch {
	case p.Channel == "":
		return &models.ConfigError{Option: "fiber_channel", Value: p.Channel, Reason: "must be set"}
	case p.Blur < 0:
		return &models.ConfigError{Option: "blur", Value: p.Blur, Reason: "must not be negative"}
	case p.ContrastScalingDivisor < 1 || bits.OnesCount(uint(p.ContrastScalingDivisor)) != 1:
		return &models.ConfigError{Option: "contrast_scaling_divisor", Value: p.ContrastScalingDivisor, Reason: "must be a power of two"}
	case len(p.FiberWidths) == 0:
		return &models.ConfigError{Option: "fiber_widths", Value: p.FiberWidths, Reason: "at least one width is required"}
	case p.SobelBlur < 0:
		return &models.ConfigError{Option: "sobel_blur", Value: p.SobelBlur, Reason: "must not be negative"}
	case p.MinFiberSize < 0:
		return &models.ConfigError{Option: "min_fiber_size", Value: p.MinFiberSize, Reason: "must not be negative"}
	case p.Workers < 1:
		return &models.ConfigError{Option: "workers", Value: p.Workers, Reason: "must be at least 1"}
	}
	for _, w := range p.FiberWidths {
		if w <= 0 {
			return &models.ConfigError{Option: "fiber_widths", Value: p.FiberWidths, Reason: "widths must be positive"}
		}
	}
	if _, err := ridge.Lookup(p.RidgeFilter); err != nil {
		return err
	}
	if _, err := threshold.Lookup(p.ThresholdMethod); err != nil {
		return err
	}
	if _, err := regionprops.Columns(p.ObjectProperties); err != nil {
		return err
	}
	return nil
}
