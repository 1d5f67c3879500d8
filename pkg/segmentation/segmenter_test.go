package segmentation

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"fiberseg/internal/models"
	"fiberseg/pkg/sink"
	"fiberseg/pkg/source"
)

const channel = "Collagen1"

// lineImage creates a size x size image with a bright horizontal line two
// pixels thick starting at each given row, spanning columns 30 to 69
func lineImage(size int, rows ...int) *models.Image {
	img := models.NewImage(size, size)
	for _, r := range rows {
		for y := r; y < r+2; y++ {
			for x := 30; x < 70; x++ {
				img.Data[y*size+x] = 1
			}
		}
	}
	return img
}

// testParams are the default parameters with a single contrast tile, as a
// 100 pixel image is too small for the default tile divisor
func testParams(outputDir string) Params {
	p := DefaultParams(channel)
	p.ContrastScalingDivisor = 1
	p.OutputDir = outputDir
	return p
}

func newSource(t *testing.T, images map[string]*models.Image, order ...string) *source.Memory {
	t.Helper()
	src := source.NewMemory()
	for _, fov := range order {
		if err := src.Add(fov, channel, images[fov]); err != nil {
			t.Fatalf("failed to add %s: %v", fov, err)
		}
	}
	return src
}

func run(t *testing.T, p Params, src source.Source) *Results {
	t.Helper()
	seg, err := NewSegmenter(p, src)
	if err != nil {
		t.Fatalf("NewSegmenter failed: %v", err)
	}
	results, err := seg.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return results
}

func TestSingleLine(t *testing.T) {
	out := t.TempDir()
	src := newSource(t, map[string]*models.Image{"fov1": lineImage(100, 49)}, "fov1")
	results := run(t, testParams(out), src)

	labels := results.LabelImages["fov1"]
	if labels == nil {
		t.Fatal("no label image for fov1")
	}
	if ids := labels.Labels(); len(ids) != 1 {
		t.Fatalf("got labels %v, want exactly one fiber", ids)
	}

	rows := results.Table.RowsForFOV("fov1")
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	row := rows[0]
	major := row.Values[results.Table.Column("major_axis_length")]
	minor := row.Values[results.Table.Column("minor_axis_length")]
	orientation := row.Values[results.Table.Column("orientation")]

	if major < 30 || major > 80 {
		t.Errorf("major axis length = %v, expected roughly the line length", major)
	}
	if minor >= major/3 {
		t.Errorf("minor axis %v not much shorter than major axis %v", minor, major)
	}
	if math.Abs(math.Abs(orientation)-math.Pi/2) > 0.2 {
		t.Errorf("orientation = %v, expected a horizontal fiber (about pi/2)", orientation)
	}
	if c := row.Values[results.Table.Column("centroid-0")]; math.Abs(c-49.5) > 2 {
		t.Errorf("centroid row = %v, want about 49.5", c)
	}

	for _, name := range []string{sink.LabelsFileName("fov1"), sink.TableFileName} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
	written, err := sink.ReadLabels(filepath.Join(out, sink.LabelsFileName("fov1")))
	if err != nil {
		t.Fatalf("ReadLabels failed: %v", err)
	}
	for i := range labels.Data {
		if written.Data[i] != labels.Data[i] {
			t.Fatalf("written labels differ at pixel %d", i)
		}
	}
}

func TestLargeMinSizeRemovesEverything(t *testing.T) {
	out := t.TempDir()
	src := newSource(t, map[string]*models.Image{"fov1": lineImage(100, 49)}, "fov1")
	p := testParams(out)
	p.MinFiberSize = 1000

	results := run(t, p, src)
	if ids := results.LabelImages["fov1"].Labels(); len(ids) != 0 {
		t.Errorf("got labels %v, want none", ids)
	}
	if len(results.Table.Rows) != 0 {
		t.Errorf("got %d rows, want none", len(results.Table.Rows))
	}

	data, err := os.ReadFile(filepath.Join(out, sink.TableFileName))
	if err != nil {
		t.Fatalf("table not written: %v", err)
	}
	if bytes.Count(data, []byte("\n")) != 1 {
		t.Errorf("expected a header-only table, got %q", string(data))
	}
}

func TestTwoFOVs(t *testing.T) {
	out := t.TempDir()
	images := map[string]*models.Image{
		"fovA": lineImage(100, 49),
		"fovB": lineImage(100, 25, 75),
	}
	results := run(t, testParams(out), newSource(t, images, "fovA", "fovB"))

	for _, fov := range []string{"fovA", "fovB"} {
		if results.LabelImages[fov] == nil {
			t.Errorf("missing label image for %s", fov)
		}
	}

	a := results.LabelImages["fovA"].Labels()
	b := results.LabelImages["fovB"].Labels()
	if len(a) != 1 || a[0] != 1 {
		t.Errorf("fovA labels = %v, want [1]", a)
	}
	if len(b) != 2 || b[0] != 1 || b[1] != 2 {
		t.Errorf("fovB labels = %v, want [1 2], numbered independently of fovA", b)
	}

	rows := results.Table.Rows
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	wantFOVs := []string{"fovA", "fovB", "fovB"}
	for i, row := range rows {
		if row.FOV != wantFOVs[i] {
			t.Errorf("row %d tagged %s, want %s", i, row.FOV, wantFOVs[i])
		}
	}

	// the upper line is met first by a row-major scan
	if c := rows[1].Values[results.Table.Column("centroid-0")]; c > 50 {
		t.Errorf("fovB label 1 centroid row = %v, expected the upper line", c)
	}
}

func TestRowsMatchLabels(t *testing.T) {
	out := t.TempDir()
	images := map[string]*models.Image{
		"fovA": lineImage(100, 20, 60),
		"fovB": lineImage(100, 49),
	}
	results := run(t, testParams(out), newSource(t, images, "fovA", "fovB"))

	for _, fov := range results.FOVs {
		ids := results.LabelImages[fov].Labels()
		rows := results.Table.RowsForFOV(fov)
		if len(rows) != len(ids) {
			t.Fatalf("%s: %d rows for %d labels", fov, len(rows), len(ids))
		}
		for i, row := range rows {
			if row.Label != ids[i] {
				t.Errorf("%s: row %d label %d, want %d", fov, i, row.Label, ids[i])
			}
		}
	}
}

func TestFilteredLabelsAreSubsetOfLabeled(t *testing.T) {
	src := newSource(t, map[string]*models.Image{"fov1": lineImage(100, 20, 49, 80)}, "fov1")
	p := testParams(t.TempDir())
	p.MinFiberSize = 60

	seg, err := NewSegmenter(p, src)
	if err != nil {
		t.Fatalf("NewSegmenter failed: %v", err)
	}
	steps, err := seg.Steps(context.Background(), "fov1")
	if err != nil {
		t.Fatalf("Steps failed: %v", err)
	}

	for i, v := range steps.Filtered.Data {
		if v != 0 && v != steps.Labeled.Data[i] {
			t.Fatalf("pixel %d: filtered label %d not in labeled image (%d)", i, v, steps.Labeled.Data[i])
		}
	}
	for i, v := range steps.Segmentation {
		if v != 0 && v != 1 {
			t.Fatalf("segmentation pixel %d = %d, want 0 or 1", i, v)
		}
	}
	if steps.Thresholds[0] >= steps.Thresholds[1] {
		t.Errorf("thresholds %v not ascending", steps.Thresholds)
	}
}

func TestIdempotent(t *testing.T) {
	images := map[string]*models.Image{
		"fovA": lineImage(100, 49),
		"fovB": lineImage(100, 25, 75),
	}

	var tables [2][]byte
	var labels [2]*Results
	for i := range tables {
		out := t.TempDir()
		labels[i] = run(t, testParams(out), newSource(t, images, "fovA", "fovB"))
		data, err := os.ReadFile(filepath.Join(out, sink.TableFileName))
		if err != nil {
			t.Fatalf("table not written: %v", err)
		}
		tables[i] = data
	}

	if !bytes.Equal(tables[0], tables[1]) {
		t.Error("fiber object tables differ between runs")
	}
	for fov, first := range labels[0].LabelImages {
		second := labels[1].LabelImages[fov]
		for i := range first.Data {
			if first.Data[i] != second.Data[i] {
				t.Fatalf("%s: label images differ at pixel %d", fov, i)
			}
		}
	}
}

func TestWorkersKeepFOVOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping multi-fov run in short mode")
	}

	images := map[string]*models.Image{
		"fov1": lineImage(100, 49),
		"fov2": lineImage(100, 25, 75),
		"fov3": lineImage(100, 10),
		"fov4": lineImage(100, 30, 60, 85),
	}
	order := []string{"fov3", "fov1", "fov4", "fov2"}

	sequential := testParams(t.TempDir())
	parallel := testParams(t.TempDir())
	parallel.Workers = 3

	want := run(t, sequential, newSource(t, images, order...))
	got := run(t, parallel, newSource(t, images, order...))

	if len(got.Table.Rows) != len(want.Table.Rows) {
		t.Fatalf("parallel run has %d rows, sequential %d", len(got.Table.Rows), len(want.Table.Rows))
	}
	for i := range want.Table.Rows {
		w, g := want.Table.Rows[i], got.Table.Rows[i]
		if w.FOV != g.FOV || w.Label != g.Label {
			t.Errorf("row %d: parallel %s/%d, sequential %s/%d", i, g.FOV, g.Label, w.FOV, w.Label)
		}
	}
	if want.Table.Rows[0].FOV != "fov3" {
		t.Errorf("first row from %s, want fov3", want.Table.Rows[0].FOV)
	}
}

func TestAllZeroImageIsDegenerate(t *testing.T) {
	out := t.TempDir()
	src := newSource(t, map[string]*models.Image{"blank": models.NewImage(100, 100)}, "blank")
	seg, err := NewSegmenter(testParams(out), src)
	if err != nil {
		t.Fatalf("NewSegmenter failed: %v", err)
	}

	_, err = seg.Run(context.Background())
	if !errors.Is(err, models.ErrDegenerateImage) {
		t.Fatalf("expected ErrDegenerateImage, got %v", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected a StageError, got %T", err)
	}
	if stageErr.FOV != "blank" || stageErr.Stage != StagePreprocess {
		t.Errorf("error reported for %s/%s, want blank/%s", stageErr.FOV, stageErr.Stage, StagePreprocess)
	}
}

func TestOutputDirMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	src := newSource(t, map[string]*models.Image{"fov1": lineImage(100, 49)}, "fov1")
	p := testParams(missing)
	p.Debug = true

	seg, err := NewSegmenter(p, src)
	if err != nil {
		t.Fatalf("NewSegmenter failed: %v", err)
	}
	if _, err := seg.Run(context.Background()); !errors.Is(err, models.ErrOutputDirMissing) {
		t.Fatalf("expected ErrOutputDirMissing, got %v", err)
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Error("output directory was created by a failed run")
	}
}

func TestDebugStages(t *testing.T) {
	out := t.TempDir()
	// a debug directory left over from an earlier run is reused
	if err := os.Mkdir(filepath.Join(out, sink.DebugDirName), 0755); err != nil {
		t.Fatal(err)
	}
	src := newSource(t, map[string]*models.Image{"fov1": lineImage(100, 49)}, "fov1")
	p := testParams(out)
	p.Debug = true
	run(t, p, src)

	for _, stage := range []string{
		"thresholded", "ridges_thresholded", "meijering_filter",
		"contrast_adjusted", "elevation_map", "segmentation",
	} {
		path := filepath.Join(out, sink.DebugDirName, "fov1_"+stage+".tiff")
		if _, err := os.Stat(path); err != nil {
			t.Errorf("debug stage %s not written: %v", stage, err)
		}
	}
}

func TestSmallImageNeedsSmallerDivisor(t *testing.T) {
	src := newSource(t, map[string]*models.Image{"fov1": lineImage(100, 49)}, "fov1")
	p := testParams(t.TempDir())
	p.ContrastScalingDivisor = 128

	seg, err := NewSegmenter(p, src)
	if err != nil {
		t.Fatalf("NewSegmenter failed: %v", err)
	}
	_, err = seg.Run(context.Background())
	var cfgErr *models.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected a ConfigError for a zero tile size, got %v", err)
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(p *Params)
		option string
	}{
		{"divisor not power of two", func(p *Params) { p.ContrastScalingDivisor = 100 }, "contrast_scaling_divisor"},
		{"no widths", func(p *Params) { p.FiberWidths = nil }, "fiber_widths"},
		{"negative width", func(p *Params) { p.FiberWidths = []float64{2, -1} }, "fiber_widths"},
		{"negative min size", func(p *Params) { p.MinFiberSize = -1 }, "min_fiber_size"},
		{"unknown property", func(p *Params) { p.ObjectProperties = []string{"solidity"} }, "object_properties"},
		{"unknown ridge filter", func(p *Params) { p.RidgeFilter = "frangi" }, "ridge_filter"},
		{"unknown threshold", func(p *Params) { p.ThresholdMethod = "li" }, "threshold_method"},
		{"no workers", func(p *Params) { p.Workers = 0 }, "workers"},
		{"no channel", func(p *Params) { p.Channel = "" }, "fiber_channel"},
	}

	defaults := DefaultParams(channel)
	if err := defaults.Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams(channel)
			tt.modify(&p)
			err := p.Validate()
			var cfgErr *models.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Option != tt.option {
				t.Errorf("error option = %q, want %q", cfgErr.Option, tt.option)
			}
		})
	}
}

func BenchmarkSteps(b *testing.B) {
	src := source.NewMemory()
	if err := src.Add("fov1", channel, lineImage(256, 60, 120, 200)); err != nil {
		b.Fatal(err)
	}
	p := DefaultParams(channel)
	p.ContrastScalingDivisor = 4
	seg, err := NewSegmenter(p, src)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := seg.Steps(context.Background(), "fov1"); err != nil {
			b.Fatal(err)
		}
	}
}
