package dicomutil

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
)

func TestSliceAxes(t *testing.T) {
	// Coronal: rows along x, columns along -z.
	row, col, normal := SliceAxes([]float64{1, 0, 0, 0, 0, -1})
	assert.Equal(t, r3.Vector{X: 1}, row)
	assert.Equal(t, r3.Vector{Z: -1}, col)
	assert.Equal(t, r3.Vector{Y: 1}, normal)

	assert.Equal(t, [9]float64{1, 0, 0, 0, 0, 1, 0, -1, 0}, Direction(row, col, normal))
}

func TestVectorTriple(t *testing.T) {
	p := [3]float64{1.5, -2, 3}
	assert.Equal(t, p, Triple(Vector(p)))
	assert.InDelta(t, 2.5, Vector(p).Dot(r3.Vector{X: 1, Z: 1 / 3.0}), 1e-12)
}
