// Package glm fits weighted generalized linear models: gaussian (identity
// link) and binomial (logit link).
//
// It is deliberately small: exactly what the estimation pipeline needs and
// nothing more.
//
//   - per-observation weights (sampling / censoring weights),
//   - a fixed offset term (required by the TMLE fluctuation step, which
//     regresses the outcome on a clever covariate with the initial fit
//     offset in),
//   - optional intercept suppression (the fluctuation is intercept-free),
//   - coefficients keyed by column name, so a fitted missingness model
//     stays interpretable.
//
// Gaussian models solve a weighted least-squares problem directly; binomial
// models run iteratively reweighted least squares (IRLS). Linear algebra is
// delegated to gonum's QR factorization.
//
// Errors are sentinels: ErrBadDimensions, ErrBadFamily, ErrSingular.
// A design matrix that QR cannot solve reliably surfaces as ErrSingular.
package glm
