package mask

import (
	"image"
	"image/draw"
	"math"
	"sort"

	"golang.org/x/image/vector"
)

// Filler rasterizes a closed 2D polygon, given as (x, y) vertices in index
// space, into a row-major (height, width) boolean plane.
type Filler interface {
	Fill(poly [][2]float64, height, width int) []bool
}

// ScanlineFiller sets every pixel whose centre lies inside the polygon or on
// its boundary (even-odd rule). Vertices outside the plane are clipped.
type ScanlineFiller struct{}

const edgeEps = 1e-9

// Fill implements Filler.
func (ScanlineFiller) Fill(poly [][2]float64, height, width int) []bool {
	plane := make([]bool, height*width)
	n := len(poly)
	if n == 0 || height <= 0 || width <= 0 {
		return plane
	}

	set := func(x, y int) {
		if x >= 0 && y >= 0 && x < width && y < height {
			plane[y*width+x] = true
		}
	}
	span := func(y int, x0, x1 float64) {
		if x0 > x1 {
			x0, x1 = x1, x0
		}
		lo := int(math.Ceil(x0 - edgeEps))
		hi := int(math.Floor(x1 + edgeEps))
		if lo < 0 {
			lo = 0
		}
		if hi >= width {
			hi = width - 1
		}
		for x := lo; x <= hi; x++ {
			set(x, y)
		}
	}

	minY, maxY := poly[0][1], poly[0][1]
	for _, p := range poly[1:] {
		minY = math.Min(minY, p[1])
		maxY = math.Max(maxY, p[1])
	}
	yStart := int(math.Max(0, math.Ceil(minY-edgeEps)))
	yEnd := int(math.Min(float64(height-1), math.Floor(maxY+edgeEps)))

	xs := make([]float64, 0, n)
	for y := yStart; y <= yEnd; y++ {
		fy := float64(y)
		xs = xs[:0]
		for i := 0; i < n; i++ {
			a, b := poly[i], poly[(i+1)%n]
			// Half-open rule so shared vertices count once.
			if (a[1] <= fy && b[1] > fy) || (b[1] <= fy && a[1] > fy) {
				t := (fy - a[1]) / (b[1] - a[1])
				xs = append(xs, a[0]+t*(b[0]-a[0]))
			}
		}
		sort.Float64s(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			span(y, xs[i], xs[i+1])
		}
	}

	// Boundary pixels the interior pass can miss: horizontal edges, top
	// vertices and edges passing exactly through pixel centres.
	for i := 0; i < n; i++ {
		a, b := poly[i], poly[(i+1)%n]
		if math.Abs(a[1]-b[1]) < edgeEps {
			y := math.Round(a[1])
			if math.Abs(y-a[1]) < edgeEps {
				span(int(y), a[0], b[0])
			}
			continue
		}
		lo := int(math.Ceil(math.Min(a[1], b[1]) - edgeEps))
		hi := int(math.Floor(math.Max(a[1], b[1]) + edgeEps))
		for y := lo; y <= hi; y++ {
			t := (float64(y) - a[1]) / (b[1] - a[1])
			x := a[0] + t*(b[0]-a[0])
			rx := math.Round(x)
			if math.Abs(rx-x) < 1e-6 {
				set(int(rx), y)
			}
		}
	}
	return plane
}

// CoverageFiller rasterizes with golang.org/x/image/vector and sets pixels
// whose area coverage reaches Threshold (0.5 when zero). Pixel (x, y) spans
// [x-0.5, x+0.5] x [y-0.5, y+0.5] in index space.
type CoverageFiller struct {
	Threshold float64
}

// Fill implements Filler.
func (f CoverageFiller) Fill(poly [][2]float64, height, width int) []bool {
	plane := make([]bool, height*width)
	if len(poly) < 3 || height <= 0 || width <= 0 {
		return plane
	}
	threshold := f.Threshold
	if threshold <= 0 {
		threshold = 0.5
	}

	r := vector.NewRasterizer(width, height)
	r.DrawOp = draw.Src
	r.MoveTo(float32(poly[0][0]+0.5), float32(poly[0][1]+0.5))
	for _, p := range poly[1:] {
		r.LineTo(float32(p[0]+0.5), float32(p[1]+0.5))
	}
	r.ClosePath()

	dst := image.NewAlpha(image.Rect(0, 0, width, height))
	r.Draw(dst, dst.Bounds(), image.Opaque, image.Point{})

	cut := uint8(math.Min(255, math.Ceil(threshold*255)))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if dst.Pix[y*dst.Stride+x] >= cut {
				plane[y*width+x] = true
			}
		}
	}
	return plane
}
