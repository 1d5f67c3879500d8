// Package regionprops measures geometric properties of labeled regions.
//
// Property names and their column layout follow the usual region property
// table conventions: vector valued properties expand into numbered
// columns, e.g. "centroid" becomes "centroid-0" (row) and "centroid-1"
// (column).
package regionprops

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"fiberseg/internal/models"
)

// DefaultProperties are measured when no property list is configured
var DefaultProperties = []string{
	"major_axis_length",
	"minor_axis_length",
	"orientation",
	"centroid",
	"label",
	"eccentricity",
	"euler_number",
}

// property describes how one named property is laid out and computed
type property struct {
	columns []string
	compute func(r *Region) []float64
}

var registry = map[string]property{
	"area": {
		columns: []string{"area"},
		compute: func(r *Region) []float64 { return []float64{float64(r.Area)} },
	},
	"bbox": {
		columns: []string{"bbox-0", "bbox-1", "bbox-2", "bbox-3"},
		compute: func(r *Region) []float64 {
			return []float64{float64(r.MinRow), float64(r.MinCol), float64(r.MaxRow + 1), float64(r.MaxCol + 1)}
		},
	},
	"centroid": {
		columns: []string{"centroid-0", "centroid-1"},
		compute: func(r *Region) []float64 { return []float64{r.CentroidRow, r.CentroidCol} },
	},
	"eccentricity": {
		columns: []string{"eccentricity"},
		compute: func(r *Region) []float64 { return []float64{r.Eccentricity()} },
	},
	"euler_number": {
		columns: []string{"euler_number"},
		compute: func(r *Region) []float64 { return []float64{float64(r.EulerNumber())} },
	},
	"extent": {
		columns: []string{"extent"},
		compute: func(r *Region) []float64 {
			box := (r.MaxRow - r.MinRow + 1) * (r.MaxCol - r.MinCol + 1)
			return []float64{float64(r.Area) / float64(box)}
		},
	},
	"label": {
		columns: []string{"label"},
		compute: func(r *Region) []float64 { return []float64{float64(r.Label)} },
	},
	"major_axis_length": {
		columns: []string{"major_axis_length"},
		compute: func(r *Region) []float64 {
			l1, _ := r.InertiaEigenvalues()
			return []float64{4 * math.Sqrt(l1)}
		},
	},
	"minor_axis_length": {
		columns: []string{"minor_axis_length"},
		compute: func(r *Region) []float64 {
			_, l2 := r.InertiaEigenvalues()
			return []float64{4 * math.Sqrt(l2)}
		},
	},
	"orientation": {
		columns: []string{"orientation"},
		compute: func(r *Region) []float64 { return []float64{r.Orientation()} },
	},
}

// Names lists every recognized property name in alphabetical order
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Columns validates props and returns the table columns they expand to
func Columns(props []string) ([]string, error) {
	if len(props) == 0 {
		return nil, &models.ConfigError{Option: "object_properties", Value: props, Reason: "at least one property is required"}
	}
	seen := make(map[string]bool, len(props))
	var columns []string
	for _, name := range props {
		p, ok := registry[name]
		if !ok {
			return nil, &models.ConfigError{
				Option: "object_properties",
				Value:  name,
				Reason: "unknown property, expected one of " + strings.Join(Names(), ", "),
			}
		}
		if seen[name] {
			return nil, &models.ConfigError{Option: "object_properties", Value: name, Reason: "listed more than once"}
		}
		seen[name] = true
		columns = append(columns, p.columns...)
	}
	return columns, nil
}

// Table measures props for every label of the image and returns one row
// per label in ascending label order, tagged with fov.
func Table(labels *models.LabelImage, props []string, fov string) (*models.FiberObjectTable, error) {
	columns, err := Columns(props)
	if err != nil {
		return nil, err
	}

	regions, err := Regions(labels)
	if err != nil {
		return nil, err
	}

	table := &models.FiberObjectTable{Columns: columns}
	for _, r := range regions {
		values := make([]float64, 0, len(columns))
		for _, name := range props {
			values = append(values, registry[name].compute(r)...)
		}
		table.Rows = append(table.Rows, models.FiberObject{
			FOV:    fov,
			Label:  r.Label,
			Values: values,
		})
	}
	return table, nil
}

// Region holds the pixels and moments of one labeled object
type Region struct {
	// Label is the object's value in the label image
	Label int

	// Area is the number of pixels
	Area int

	// MinRow, MinCol, MaxRow, MaxCol bound the region, inclusive
	MinRow, MinCol, MaxRow, MaxCol int

	// CentroidRow, CentroidCol are the mean pixel coordinates
	CentroidRow, CentroidCol float64

	// RowVar, ColVar and Cov are the central second moments divided by area
	RowVar, ColVar, Cov float64

	rows, cols []float64
}

// Regions collects every labeled region of the image in ascending label order
func Regions(labels *models.LabelImage) ([]*Region, error) {
	if len(labels.Data) != labels.Width*labels.Height {
		return nil, fmt.Errorf("label image has %d pixels, expected %dx%d", len(labels.Data), labels.Width, labels.Height)
	}

	byLabel := make(map[int]*Region)
	for idx, v := range labels.Data {
		if v < 0 {
			return nil, fmt.Errorf("negative label %d at pixel %d", v, idx)
		}
		if v == 0 {
			continue
		}
		y, x := idx/labels.Width, idx%labels.Width
		r, ok := byLabel[v]
		if !ok {
			r = &Region{Label: v, MinRow: y, MinCol: x, MaxRow: y, MaxCol: x}
			byLabel[v] = r
		}
		r.Area++
		r.MinRow = min(r.MinRow, y)
		r.MinCol = min(r.MinCol, x)
		r.MaxRow = max(r.MaxRow, y)
		r.MaxCol = max(r.MaxCol, x)
		r.rows = append(r.rows, float64(y))
		r.cols = append(r.cols, float64(x))
	}

	regions := make([]*Region, 0, len(byLabel))
	for _, r := range byLabel {
		r.moments()
		regions = append(regions, r)
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Label < regions[j].Label })
	return regions, nil
}

func (r *Region) moments() {
	r.CentroidRow = stat.Mean(r.rows, nil)
	r.CentroidCol = stat.Mean(r.cols, nil)
	r.RowVar = stat.Moment(2, r.rows, nil)
	r.ColVar = stat.Moment(2, r.cols, nil)

	var cross float64
	for i := range r.rows {
		cross += (r.rows[i] - r.CentroidRow) * (r.cols[i] - r.CentroidCol)
	}
	r.Cov = cross / float64(r.Area)
}

// inertia returns the inertia tensor entries a, b, c of [[a, b], [b, c]]
func (r *Region) inertia() (a, b, c float64) {
	return r.ColVar, -r.Cov, r.RowVar
}

// InertiaEigenvalues returns the eigenvalues of the inertia tensor, largest first
func (r *Region) InertiaEigenvalues() (float64, float64) {
	a, b, c := r.inertia()
	var es mat.EigenSym
	if !es.Factorize(mat.NewSymDense(2, []float64{a, b, b, c}), false) {
		return 0, 0
	}
	vals := es.Values(nil)
	return math.Max(vals[1], 0), math.Max(vals[0], 0)
}

// Orientation is the angle in radians between the row axis and the major
// axis, in [-pi/2, pi/2]
func (r *Region) Orientation() float64 {
	a, b, c := r.inertia()
	if a-c == 0 {
		if b < 0 {
			return -math.Pi / 4
		}
		return math.Pi / 4
	}
	return 0.5 * math.Atan2(-2*b, c-a)
}

// Eccentricity of the ellipse with the same second moments; 0 is a circle
func (r *Region) Eccentricity() float64 {
	l1, l2 := r.InertiaEigenvalues()
	if l1 == 0 {
		return 0
	}
	return math.Sqrt(1 - l2/l1)
}

// EulerNumber is the number of 8-connected components minus the number of
// 4-connected holes, computed from 2x2 bit-quad counts.
func (r *Region) EulerNumber() int {
	h := r.MaxRow - r.MinRow + 3
	w := r.MaxCol - r.MinCol + 3
	img := make([]bool, w*h)
	for i := range r.rows {
		y := int(r.rows[i]) - r.MinRow + 1
		x := int(r.cols[i]) - r.MinCol + 1
		img[y*w+x] = true
	}

	var q1, q3, qd int
	for y := 0; y < h-1; y++ {
		for x := 0; x < w-1; x++ {
			tl, tr := img[y*w+x], img[y*w+x+1]
			bl, br := img[(y+1)*w+x], img[(y+1)*w+x+1]
			n := btoi(tl) + btoi(tr) + btoi(bl) + btoi(br)
			switch {
			case n == 1:
				q1++
			case n == 3:
				q3++
			case n == 2 && tl == br:
				qd++
			}
		}
	}
	return (q1 - q3 - 2*qd) / 4
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}
