// Package frame provides dense float64 matrices with named columns,
// the common currency of every fitting step in this module.
//
// A Matrix is row-major and immutable in shape: rows are observations,
// columns are named covariates. Construction normalizes the loose inputs
// a caller may hand in:
//
//   - a bare Vector becomes a single named column,
//   - an unnamed matrix gets auto-generated names "W1".."Wk",
//   - an already-named matrix passes through untouched.
//
// Beyond construction, the package offers exactly the operations the
// estimation pipeline needs: column binding (cbind), row and column
// subsetting, and a copy-out to gonum's mat.Dense for linear algebra.
//
// All errors are package-prefixed sentinels; use errors.Is to test them.
package frame
