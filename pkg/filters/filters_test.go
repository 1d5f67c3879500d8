package filters

import (
	"errors"
	"math"
	"testing"

	"fiberseg/internal/models"
)

// makeImage creates a width x height image from a pattern function
func makeImage(width, height int, pattern func(x, y int) float64) []float64 {
	data := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			data[y*width+x] = pattern(x, y)
		}
	}
	return data
}

func TestReflectIndex(t *testing.T) {
	tests := []struct {
		idx, size, want int
	}{
		{0, 5, 0},
		{4, 5, 4},
		{-1, 5, 0},
		{-2, 5, 1},
		{5, 5, 4},
		{6, 5, 3},
		{-7, 5, 3},
		{3, 1, 0},
	}
	for _, tt := range tests {
		if got := reflectIndex(tt.idx, tt.size); got != tt.want {
			t.Errorf("reflectIndex(%d, %d) = %d, want %d", tt.idx, tt.size, got, tt.want)
		}
	}
}

func TestGaussianKernelNormalized(t *testing.T) {
	for _, sigma := range []float64{0.5, 1, 2, 4} {
		k := gaussianKernel1D(sigma, 0)
		if len(k) != 2*int(truncate*sigma+0.5)+1 {
			t.Errorf("sigma %v: kernel length %d", sigma, len(k))
		}
		sum := 0.0
		for _, v := range k {
			sum += v
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("sigma %v: kernel sums to %v", sigma, sum)
		}
	}
}

func TestGaussianZeroSigmaCopies(t *testing.T) {
	data := makeImage(4, 3, func(x, y int) float64 { return float64(x * y) })
	out := Gaussian(data, 4, 3, 0)

	for i := range data {
		if out[i] != data[i] {
			t.Fatalf("pixel %d changed: %v -> %v", i, data[i], out[i])
		}
	}
	out[0] = 99
	if data[0] == 99 {
		t.Error("zero sigma returned the input buffer instead of a copy")
	}
}

func TestGaussianConstantImage(t *testing.T) {
	data := makeImage(13, 9, func(x, y int) float64 { return 3 })
	out := Gaussian(data, 13, 9, 2)
	for i, v := range out {
		if math.Abs(v-3) > 1e-9 {
			t.Fatalf("pixel %d = %v, want 3", i, v)
		}
	}
}

func TestGaussianImpulse(t *testing.T) {
	const size = 21
	data := make([]float64, size*size)
	data[10*size+10] = 1

	out := Gaussian(data, size, size, 1)

	sum := 0.0
	for _, v := range out {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("blurred impulse sums to %v, want 1", sum)
	}

	peak := out[10*size+10]
	for i, v := range out {
		if v > peak {
			t.Fatalf("pixel %d (%v) exceeds the centre %v", i, v, peak)
		}
	}

	if math.Abs(out[10*size+9]-out[10*size+11]) > 1e-12 || math.Abs(out[9*size+10]-out[11*size+10]) > 1e-12 {
		t.Error("blurred impulse is not symmetric")
	}
	if math.Abs(out[10*size+9]-out[9*size+10]) > 1e-12 {
		t.Error("blurred impulse is not isotropic")
	}
}

func TestGaussianDerivativeOfRamp(t *testing.T) {
	// f(x, y) = 2x has d/dx = 2 and zero second derivatives away from
	// borders, up to the kernel truncation error
	const w, h = 40, 20
	data := makeImage(w, h, func(x, y int) float64 { return 2 * float64(x) })

	dx := GaussianDerivative(data, w, h, 2, 0, 1)
	dy := GaussianDerivative(data, w, h, 2, 1, 0)
	dxx := GaussianDerivative(data, w, h, 2, 0, 2)

	idx := 10*w + 20
	if math.Abs(dx[idx]-2) > 1e-2 {
		t.Errorf("d/dx = %v, want 2", dx[idx])
	}
	if math.Abs(dy[idx]) > 1e-9 {
		t.Errorf("d/dy = %v, want 0", dy[idx])
	}
	if math.Abs(dxx[idx]) > 5e-2 {
		t.Errorf("d2/dx2 = %v, want 0", dxx[idx])
	}
}

func TestSobel(t *testing.T) {
	const w, h = 20, 10

	flat := Sobel(makeImage(w, h, func(x, y int) float64 { return 5 }), w, h)
	for i, v := range flat {
		if v != 0 {
			t.Fatalf("constant image has gradient %v at pixel %d", v, i)
		}
	}

	step := makeImage(w, h, func(x, y int) float64 {
		if x >= w/2 {
			return 1
		}
		return 0
	})
	edges := Sobel(step, w, h)
	if edges[5*w+w/2] <= 0 || edges[5*w+w/2-1] <= 0 {
		t.Error("expected a response on both sides of the step")
	}
	if edges[5*w+2] != 0 || edges[5*w+w-3] != 0 {
		t.Error("expected no response away from the step")
	}
	// [1 0 -1] across the step smoothed by [1 2 1]/4 along it gives |gx| = 1
	want := 1 / math.Sqrt(2)
	if math.Abs(edges[5*w+w/2]-want) > 1e-12 {
		t.Errorf("edge magnitude = %v, want %v", edges[5*w+w/2], want)
	}
}

func TestEqualizeAdaptHistRange(t *testing.T) {
	const w, h = 64, 64
	data := makeImage(w, h, func(x, y int) float64 { return float64(x+y) / float64(w+h) })

	out, err := EqualizeAdaptHist(data, w, h, 16, DefaultClipLimit, DefaultBins)
	if err != nil {
		t.Fatalf("EqualizeAdaptHist failed: %v", err)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range out {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo != 0 || math.Abs(hi-1) > 1e-12 {
		t.Errorf("output range [%v, %v], want [0, 1]", lo, hi)
	}
	if out[0] >= out[len(out)-1] {
		t.Error("expected the dark corner to stay darker than the bright corner")
	}
}

func TestEqualizeAdaptHistSingleTileKeepsBackground(t *testing.T) {
	const w, h = 50, 50
	data := makeImage(w, h, func(x, y int) float64 {
		if y == 25 && x > 10 && x < 40 {
			return 1
		}
		return 0
	})

	out, err := EqualizeAdaptHist(data, w, h, h, DefaultClipLimit, DefaultBins)
	if err != nil {
		t.Fatalf("EqualizeAdaptHist failed: %v", err)
	}
	if out[0] != 0 {
		t.Errorf("background = %v, want 0", out[0])
	}
	if math.Abs(out[25*w+20]-1) > 1e-12 {
		t.Errorf("line = %v, want 1", out[25*w+20])
	}
}

func TestEqualizeAdaptHistErrors(t *testing.T) {
	data := makeImage(8, 8, func(x, y int) float64 { return float64(x) })

	_, err := EqualizeAdaptHist(data, 8, 8, 0, DefaultClipLimit, DefaultBins)
	var cfgErr *models.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("tile size 0: expected ConfigError, got %v", err)
	}

	uniform := makeImage(8, 8, func(x, y int) float64 { return 0.5 })
	_, err = EqualizeAdaptHist(uniform, 8, 8, 4, DefaultClipLimit, DefaultBins)
	if !errors.Is(err, models.ErrDegenerateImage) {
		t.Errorf("uniform image: expected ErrDegenerateImage, got %v", err)
	}
}

func BenchmarkGaussian(b *testing.B) {
	const size = 512
	data := makeImage(size, size, func(x, y int) float64 { return float64((x * y) % 17) })
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Gaussian(data, size, size, 2)
	}
}
