package models

import "fmt"

// FlattenF flattens a nested [x][y][z] array in column-major (Fortran) order,
// the order shared by volume files and Volume.Data.
func FlattenF(a [][][]float64) []float64 {
	if len(a) == 0 || len(a[0]) == 0 {
		return nil
	}
	nx, ny, nz := len(a), len(a[0]), len(a[0][0])
	out := make([]float64, nx*ny*nz)
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				out[x+nx*(y+ny*z)] = a[x][y][z]
			}
		}
	}
	return out
}

// ReshapeF is the inverse of FlattenF.
func ReshapeF(data []float64, dims [3]int) ([][][]float64, error) {
	nx, ny, nz := dims[0], dims[1], dims[2]
	if len(data) != nx*ny*nz {
		return nil, fmt.Errorf("cannot reshape %d values to %v", len(data), dims)
	}
	out := make([][][]float64, nx)
	for x := range out {
		out[x] = make([][]float64, ny)
		for y := range out[x] {
			out[x][y] = make([]float64, nz)
			for z := range out[x][y] {
				out[x][y][z] = data[x+nx*(y+ny*z)]
			}
		}
	}
	return out, nil
}
