// Package segmentation finds fiber objects in one channel of a set of fovs
// and measures their morphology.
//
// Each fov goes through the same stages:
//  1. Gaussian blur, max normalization and adaptive histogram equalization
//  2. Ridge filtering over the configured fiber widths
//  3. Distance transform of the thresholded ridges, smoothed
//  4. Three class multi-Otsu split of the distances into watershed markers
//  5. Watershed on the Sobel elevation map, then connected component labeling
//  6. Small object removal and region property measurement
//
// Fovs are independent of each other. The results of a run are a label
// image per fov and one fiber object table spanning every fov.
package segmentation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"fiberseg/internal/models"
	"fiberseg/pkg/regionprops"
	"fiberseg/pkg/sink"
	"fiberseg/pkg/source"
)

// Results is what a run produces
type Results struct {
	// FOVs lists the processed fovs in processing order
	FOVs []string

	// LabelImages maps each fov to its filtered label image
	LabelImages map[string]*models.LabelImage

	// Table holds one row per fiber of every fov
	Table *models.FiberObjectTable
}

// fovResult is the slot one fov worker fills
type fovResult struct {
	labels *models.LabelImage
	table  *models.FiberObjectTable
}

// Segmenter runs the fiber segmentation over every fov of a source
type Segmenter struct {
	params Params
	source source.Source
	sinks  []sink.TableSink
	logger *slog.Logger
}

// Option configures a Segmenter
type Option func(*Segmenter)

// WithLogger sets the logger used for progress messages
func WithLogger(logger *slog.Logger) Option {
	return func(s *Segmenter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTableSink adds a sink that receives the fiber object table after the
// CSV file has been written
func WithTableSink(ts sink.TableSink) Option {
	return func(s *Segmenter) {
		s.sinks = append(s.sinks, ts)
	}
}

// NewSegmenter validates params and creates a segmenter reading from src
func NewSegmenter(params Params, src source.Source, opts ...Option) (*Segmenter, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	s := &Segmenter{
		params: params,
		source: src,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run segments every fov that has the fiber channel, writes
// <fov>_fiber_labels.tiff for each fov and fiber_object_table.csv into the
// output directory, and returns the label images and the table.
//
// The output directory is checked before any fov is processed. With more
// than one worker fovs are processed concurrently, but the table rows always
// follow fov order. The first failing fov cancels the rest of the run.
func (s *Segmenter) Run(ctx context.Context) (*Results, error) {
	if err := checkOutputDir(s.params.OutputDir); err != nil {
		return nil, err
	}

	var debug *sink.Debug
	if s.params.Debug {
		var err error
		if debug, err = sink.NewDebug(s.params.OutputDir); err != nil {
			return nil, err
		}
	}

	fovs, err := s.source.FOVs(s.params.Channel)
	if err != nil {
		return nil, fmt.Errorf("failed to list fovs: %w", err)
	}

	s.logger.Info("segmenting fibers",
		"fovs", len(fovs),
		"channel", s.params.Channel,
		"workers", s.params.Workers)
	start := time.Now()

	slots := make([]fovResult, len(fovs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.params.Workers)
	for i, fov := range fovs {
		i, fov := i, fov
		g.Go(func() error {
			res, err := s.processFOV(gctx, fov, debug)
			if err != nil {
				return err
			}
			slots[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := &Results{
		FOVs:        fovs,
		LabelImages: make(map[string]*models.LabelImage, len(fovs)),
		Table:       &models.FiberObjectTable{},
	}
	columns, err := regionprops.Columns(s.params.ObjectProperties)
	if err != nil {
		return nil, err
	}
	results.Table.Columns = columns
	for i, fov := range fovs {
		results.LabelImages[fov] = slots[i].labels
		if err := results.Table.Append(slots[i].table); err != nil {
			return nil, fmt.Errorf("fov %s: %w", fov, err)
		}
	}

	if err := (sink.CSVFile{Dir: s.params.OutputDir}).WriteTable(ctx, results.Table); err != nil {
		return nil, err
	}
	for _, ts := range s.sinks {
		if err := ts.WriteTable(ctx, results.Table); err != nil {
			return nil, fmt.Errorf("failed to write fiber object table: %w", err)
		}
	}

	s.logger.Info("segmentation finished",
		"fovs", len(fovs),
		"fibers", len(results.Table.Rows),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return results, nil
}

// Steps runs every stage on a single fov and returns all intermediate
// images without writing anything
func (s *Segmenter) Steps(ctx context.Context, fov string) (*Steps, error) {
	img, err := s.source.Image(ctx, fov, s.params.Channel)
	if err != nil {
		return nil, &StageError{FOV: fov, Stage: StageLoad, Err: err}
	}
	loaded := *img
	loaded.FOV = fov
	return segment(&loaded, &s.params)
}

func (s *Segmenter) processFOV(ctx context.Context, fov string, debug *sink.Debug) (fovResult, error) {
	logger := s.logger.With("fov", fov)
	logger.Debug("processing fov")

	st, err := s.Steps(ctx, fov)
	if err != nil {
		return fovResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return fovResult{}, err
	}

	table, err := regionprops.Table(st.Filtered, s.params.ObjectProperties, fov)
	if err != nil {
		return fovResult{}, &StageError{FOV: fov, Stage: StageFeatures, Err: err}
	}

	if debug != nil {
		if err := writeDebugStages(debug, st, s.params.RidgeFilter); err != nil {
			return fovResult{}, &StageError{FOV: fov, Stage: StageWrite, Err: err}
		}
	}

	path := filepath.Join(s.params.OutputDir, sink.LabelsFileName(fov))
	if err := sink.WriteLabels(path, st.Filtered); err != nil {
		return fovResult{}, &StageError{FOV: fov, Stage: StageWrite, Err: err}
	}

	logger.Info("fov segmented",
		"labeled", len(st.Labeled.Labels()),
		"kept", len(table.Rows),
		"thresholds", st.Thresholds)
	return fovResult{labels: st.Filtered, table: table}, nil
}

func writeDebugStages(debug *sink.Debug, st *Steps, ridgeFilter string) error {
	stages := []struct {
		name string
		data []float64
	}{
		{"thresholded", sink.IntsToFloat(st.Markers)},
		{"ridges_thresholded", st.Distance},
		{ridgeFilter + "_filter", st.Ridges},
		{"contrast_adjusted", st.ContrastAdjusted},
		{"elevation_map", st.Elevation},
		{"segmentation", sink.IntsToFloat(st.Segmentation)},
	}
	for _, stage := range stages {
		if err := debug.WriteStage(st.FOV, stage.name, stage.data, st.Width, st.Height); err != nil {
			return err
		}
	}
	return nil
}

func checkOutputDir(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
		return fmt.Errorf("%w: %s", models.ErrOutputDirMissing, dir)
	}
	if err != nil {
		return fmt.Errorf("failed to check output directory: %w", err)
	}
	return nil
}
