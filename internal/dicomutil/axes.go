package dicomutil

import "github.com/golang/geo/r3"

// SliceAxes splits an ImageOrientationPatient value into its row and column
// direction cosines and returns the slice normal row × col.
func SliceAxes(iop []float64) (row, col, normal r3.Vector) {
	row = r3.Vector{X: iop[0], Y: iop[1], Z: iop[2]}
	col = r3.Vector{X: iop[3], Y: iop[4], Z: iop[5]}
	return row, col, row.Cross(col)
}

// Vector converts a patient-space triple.
func Vector(p [3]float64) r3.Vector {
	return r3.Vector{X: p[0], Y: p[1], Z: p[2]}
}

// Triple is the inverse of Vector.
func Triple(v r3.Vector) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// Direction returns the row-major direction matrix whose columns are row,
// col and normal.
func Direction(row, col, normal r3.Vector) [9]float64 {
	return [9]float64{
		row.X, col.X, normal.X,
		row.Y, col.Y, normal.Y,
		row.Z, col.Z, normal.Z,
	}
}
