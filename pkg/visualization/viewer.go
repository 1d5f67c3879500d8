package visualization

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/floats"

	"fiberseg/pkg/segmentation"
	"fiberseg/pkg/sink"
)

// Panels lists the stage panels of a montage in row-major order
var Panels = []string{
	"raw",
	"blurred",
	"contrast_adjusted",
	"ridges",
	"distance",
	"markers",
	"elevation_map",
	"unfiltered_labels",
	"filtered_labels",
}

// montageColumns is the number of panels per montage row
const montageColumns = 3

// Viewer renders the intermediate images of one segmented fov, the way a
// person tuning the segmentation parameters would want to compare them
type Viewer struct {
	steps *segmentation.Steps

	// gap is the spacing between montage panels, in pixels
	gap int
}

// NewViewer creates a viewer for the stage images of one fov
func NewViewer(steps *segmentation.Steps) *Viewer {
	return &Viewer{steps: steps, gap: 4}
}

// ExtractPanel renders one named stage as an image. Intensity stages are
// min-max scaled to grey; label stages use a colormap with black background.
func (v *Viewer) ExtractPanel(name string) (image.Image, error) {
	st := v.steps
	w, h := st.Width, st.Height

	switch name {
	case "raw":
		return Grayscale(st.Raw, w, h), nil
	case "blurred":
		return Grayscale(st.Blurred, w, h), nil
	case "contrast_adjusted":
		return Grayscale(st.ContrastAdjusted, w, h), nil
	case "ridges":
		return Grayscale(st.Ridges, w, h), nil
	case "distance":
		return Grayscale(st.Distance, w, h), nil
	case "markers":
		return Grayscale(sink.IntsToFloat(st.Markers), w, h), nil
	case "elevation_map":
		return Grayscale(st.Elevation, w, h), nil
	case "unfiltered_labels":
		return Labels(st.Labeled.Data, w, h), nil
	case "filtered_labels":
		return Labels(st.Filtered.Data, w, h), nil
	default:
		return nil, fmt.Errorf("invalid panel: %s", name)
	}
}

// Montage tiles every panel into a 3x3 grid, each panel resized to tile
// pixels on its longer side. A tile of 0 keeps the original size.
func (v *Viewer) Montage(tile int) (image.Image, error) {
	pw, ph := v.steps.Width, v.steps.Height
	if tile > 0 {
		if pw >= ph {
			pw, ph = tile, max(1, ph*tile/pw)
		} else {
			pw, ph = max(1, pw*tile/ph), tile
		}
	}

	rows := (len(Panels) + montageColumns - 1) / montageColumns
	dst := imaging.New(
		montageColumns*pw+(montageColumns+1)*v.gap,
		rows*ph+(rows+1)*v.gap,
		color.White)

	for i, name := range Panels {
		panel, err := v.ExtractPanel(name)
		if err != nil {
			return nil, err
		}
		if panel.Bounds().Dx() != pw || panel.Bounds().Dy() != ph {
			panel = imaging.Resize(panel, pw, ph, imaging.NearestNeighbor)
		}
		col, row := i%montageColumns, i/montageColumns
		pos := image.Pt(v.gap+col*(pw+v.gap), v.gap+row*(ph+v.gap))
		dst = imaging.Paste(dst, panel, pos)
	}
	return dst, nil
}

// SaveMontage renders the montage and saves it; the format follows the
// file extension
func (v *Viewer) SaveMontage(filename string, tile int) error {
	img, err := v.Montage(tile)
	if err != nil {
		return err
	}
	return imaging.Save(img, filename)
}

// SavePanels writes every panel as <outputDir>/<fov>_<panel>.png
func (v *Viewer) SavePanels(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	for _, name := range Panels {
		img, err := v.ExtractPanel(name)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.png", v.steps.FOV, name))
		if err := imaging.Save(img, filename); err != nil {
			return err
		}
	}
	return nil
}

// Grayscale min-max scales data into an 8-bit grey image. A constant image is black.
func Grayscale(data []float64, width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	if len(data) == 0 {
		return img
	}
	lo, hi := floats.Min(data), floats.Max(data)
	if hi <= lo {
		return img
	}
	scale := 255.0 / (hi - lo)
	for i, v := range data {
		img.Pix[i] = uint8((v-lo)*scale + 0.5)
	}
	return img
}

// Labels colors a label image with the "cool" colormap spread over the
// label range. Background stays black.
func Labels(data []int, width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	maxLabel := 0
	for _, v := range data {
		maxLabel = max(maxLabel, v)
	}
	for i, v := range data {
		c := color.NRGBA{A: 255}
		if v > 0 {
			c = Cool(labelPosition(v, maxLabel))
		}
		img.Pix[4*i] = c.R
		img.Pix[4*i+1] = c.G
		img.Pix[4*i+2] = c.B
		img.Pix[4*i+3] = c.A
	}
	return img
}

// Cool maps t in [0, 1] from cyan to magenta
func Cool(t float64) color.NRGBA {
	t = max(0, min(1, t))
	return color.NRGBA{
		R: uint8(255*t + 0.5),
		G: uint8(255*(1-t) + 0.5),
		B: 255,
		A: 255,
	}
}

func labelPosition(label, maxLabel int) float64 {
	if maxLabel <= 1 {
		return 0
	}
	return float64(label-1) / float64(maxLabel-1)
}
