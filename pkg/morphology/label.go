package morphology

import (
	"fmt"

	"fiberseg/internal/models"
)

// Connectivity selects which neighbours are adjacent
type Connectivity int

const (
	// FourConnected joins pixels sharing an edge
	FourConnected Connectivity = 1
	// EightConnected also joins pixels sharing a corner
	EightConnected Connectivity = 2
)

// offsets returns the neighbour displacements as (dy, dx) in row-major order
func (c Connectivity) offsets() [][2]int {
	if c == EightConnected {
		return [][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}
	}
	return [][2]int{{-1, 0}, {0, -1}, {0, 1}, {1, 0}}
}

// Label assigns a distinct positive id to every connected component of
// non-zero pixels. Components are numbered 1, 2, ... in the order their
// first pixel is met by a row-major scan, which makes the numbering
// reproducible for identical input.
func Label(data []int, width, height int, conn Connectivity) (*models.LabelImage, int, error) {
	if len(data) != width*height {
		return nil, 0, fmt.Errorf("label input has %d pixels, expected %dx%d", len(data), width, height)
	}

	out := models.NewLabelImage(width, height)
	offsets := conn.offsets()
	queue := make([]int, 0, 64)
	next := 0

	for start, v := range data {
		if v == 0 || out.Data[start] != 0 {
			continue
		}
		next++
		out.Data[start] = next
		queue = append(queue[:0], start)

		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			y, x := idx/width, idx%width

			for _, o := range offsets {
				ny, nx := y+o[0], x+o[1]
				if ny < 0 || ny >= height || nx < 0 || nx >= width {
					continue
				}
				n := ny*width + nx
				if data[n] != 0 && out.Data[n] == 0 {
					out.Data[n] = next
					queue = append(queue, n)
				}
			}
		}
	}

	return out, next, nil
}
