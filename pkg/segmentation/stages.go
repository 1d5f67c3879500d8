package segmentation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"fiberseg/internal/models"
	"fiberseg/pkg/filters"
	"fiberseg/pkg/morphology"
	"fiberseg/pkg/ridge"
	"fiberseg/pkg/threshold"
)

// Stage names reported in StageError
const (
	StageLoad       = "load"
	StagePreprocess = "preprocess"
	StageRidge      = "ridge"
	StageDistance   = "distance"
	StageThreshold  = "threshold"
	StageWatershed  = "watershed"
	StageFilter     = "filter"
	StageFeatures   = "features"
	StageWrite      = "write"
)

// markerClasses is the number of distance classes; the lowest and highest
// become watershed markers
const markerClasses = 3

// StageError reports which fov and which stage of its processing failed
type StageError struct {
	FOV   string
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("fov %s: %s: %v", e.FOV, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Steps holds every intermediate image of one fov, in processing order.
// All images share Width and Height.
type Steps struct {
	FOV           string
	Width, Height int

	// Raw is the fiber channel as loaded
	Raw []float64

	// Blurred is Raw after the initial Gaussian blur
	Blurred []float64

	// ContrastAdjusted is the max-normalized blur after adaptive equalization
	ContrastAdjusted []float64

	// Ridges is the ridge filter response
	Ridges []float64

	// Distance is the smoothed distance transform of the thresholded ridges
	Distance []float64

	// Thresholds are the lower and upper marker cutoffs on Distance
	Thresholds []float64

	// Markers is 1 below the lower cutoff, 2 above the upper cutoff and 0 between
	Markers []int

	// Elevation is the Sobel magnitude of the re-blurred distance map
	Elevation []float64

	// Segmentation is 1 inside fiber basins and 0 elsewhere
	Segmentation []int

	// Labeled numbers the connected fiber basins
	Labeled *models.LabelImage

	// Filtered is Labeled without objects smaller than the minimum size
	Filtered *models.LabelImage
}

// segment runs every image stage on one fov
func segment(img *models.Image, p *Params) (*Steps, error) {
	fail := func(stage string, err error) (*Steps, error) {
		return nil, &StageError{FOV: img.FOV, Stage: stage, Err: err}
	}

	if err := img.Validate(); err != nil {
		return fail(StageLoad, err)
	}
	w, h := img.Width, img.Height
	st := &Steps{FOV: img.FOV, Width: w, Height: h, Raw: img.Data}

	// Preprocess
	st.Blurred = filters.Gaussian(img.Data, w, h, p.Blur)
	normalized, err := normalizeMax(st.Blurred)
	if err != nil {
		return fail(StagePreprocess, err)
	}
	kernel := h / p.ContrastScalingDivisor
	st.ContrastAdjusted, err = filters.EqualizeAdaptHist(normalized, w, h, kernel, filters.DefaultClipLimit, filters.DefaultBins)
	if err != nil {
		return fail(StagePreprocess, err)
	}

	// Ridges
	filter, err := ridge.Lookup(p.RidgeFilter)
	if err != nil {
		return fail(StageRidge, err)
	}
	st.Ridges = filter(st.ContrastAdjusted, w, h, p.FiberWidths, false)

	// Distance
	mask := make([]bool, len(st.Ridges))
	for i, v := range st.Ridges {
		mask[i] = v > p.RidgeCutoff
	}
	dist, err := morphology.DistanceTransform(mask, w, h)
	if err != nil {
		return fail(StageDistance, err)
	}
	st.Distance = filters.Gaussian(dist, w, h, 1)

	// Threshold
	method, err := threshold.Lookup(p.ThresholdMethod)
	if err != nil {
		return fail(StageThreshold, err)
	}
	st.Thresholds, err = method(st.Distance, markerClasses)
	if err != nil {
		return fail(StageThreshold, err)
	}
	st.Markers = threshold.Classify(st.Distance, st.Thresholds[0], st.Thresholds[len(st.Thresholds)-1])

	// Watershed
	st.Elevation = filters.Sobel(filters.Gaussian(st.Distance, w, h, p.SobelBlur), w, h)
	basins, err := morphology.Watershed(st.Elevation, st.Markers, w, h)
	if err != nil {
		return fail(StageWatershed, err)
	}
	st.Segmentation = make([]int, len(basins))
	for i, b := range basins {
		st.Segmentation[i] = max(b-1, 0)
	}
	st.Labeled, _, err = morphology.Label(st.Segmentation, w, h, morphology.FourConnected)
	if err != nil {
		return fail(StageWatershed, err)
	}

	// Filter
	kept := morphology.RemoveSmallObjects(st.Labeled, p.MinFiberSize)
	st.Filtered, err = morphology.MaskProduct(kept, st.Segmentation)
	if err != nil {
		return fail(StageFilter, err)
	}

	return st, nil
}

// normalizeMax divides data by its maximum. Data with a non-positive
// maximum or non-finite values cannot be normalized.
func normalizeMax(data []float64) ([]float64, error) {
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, models.Degenerate("image contains non-finite values")
		}
	}
	peak := floats.Max(data)
	if peak <= 0 {
		return nil, models.Degenerate("image maximum is %v after blurring", peak)
	}
	out := make([]float64, len(data))
	floats.ScaleTo(out, 1/peak, data)
	return out, nil
}
