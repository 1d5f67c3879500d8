package morphology

import (
	"container/heap"
	"fmt"
)

// floodPixel is a queued pixel of the watershed flood
type floodPixel struct {
	value float64
	age   uint64
	index int
}

// floodQueue orders pixels by elevation, then by the order they were
// queued, then by position
type floodQueue []floodPixel

func (q floodQueue) Len() int { return len(q) }
func (q floodQueue) Less(i, j int) bool {
	if q[i].value != q[j].value {
		return q[i].value < q[j].value
	}
	if q[i].age != q[j].age {
		return q[i].age < q[j].age
	}
	return q[i].index < q[j].index
}
func (q floodQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *floodQueue) Push(x any) { *q = append(*q, x.(floodPixel)) }

func (q *floodQueue) Pop() any {
	old := *q
	n := len(old)
	p := old[n-1]
	*q = old[:n-1]
	return p
}

// Watershed floods the elevation map from the non-zero marker pixels and
// returns a label per pixel taken from the marker basin that reached it
// first. Neighbours are 4-connected. A pixel takes its label when it is
// queued, and the queue order is (elevation, queue age, index), so equal
// inputs always produce equal basins. Pixels no marker can reach stay 0.
func Watershed(elevation []float64, markers []int, width, height int) ([]int, error) {
	if len(elevation) != width*height || len(markers) != width*height {
		return nil, fmt.Errorf("watershed inputs have %d and %d pixels, expected %dx%d",
			len(elevation), len(markers), width, height)
	}

	out := make([]int, len(markers))
	q := make(floodQueue, 0, len(markers)/4+1)

	for idx, m := range markers {
		if m == 0 {
			continue
		}
		out[idx] = m
		q = append(q, floodPixel{value: elevation[idx], index: idx})
	}
	heap.Init(&q)

	offsets := FourConnected.offsets()
	var age uint64
	for q.Len() > 0 {
		p := heap.Pop(&q).(floodPixel)
		y, x := p.index/width, p.index%width

		for _, o := range offsets {
			ny, nx := y+o[0], x+o[1]
			if ny < 0 || ny >= height || nx < 0 || nx >= width {
				continue
			}
			n := ny*width + nx
			if out[n] != 0 {
				continue
			}
			age++
			out[n] = out[p.index]
			heap.Push(&q, floodPixel{value: elevation[n], age: age, index: n})
		}
	}

	return out, nil
}
