package linalg

import (
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/blas/gonum"
)

// BLASName reports which BLAS implementation gonum/mat dispatches to.
func BLASName() string {
	if _, ok := blas64.Implementation().(gonum.Implementation); ok {
		return "gonum"
	}
	return "netlib"
}
