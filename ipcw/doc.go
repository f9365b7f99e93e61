// Package ipcw is the entry point of the module: two-stage targeted effect
// estimation with inverse-probability-of-censoring weights.
//
// The setting: stage-1 covariates W are measured on everyone, stage-2
// covariates only on the sub-sample flagged by DeltaW. Estimating the
// treatment effect on the completed sub-sample alone would be biased
// whenever stage-2 measurement is non-random, so the pipeline
//
//  1. normalizes the covariate inputs into named matrices,
//  2. optionally fits a cross-validated outcome regression on (A, W) to
//     obtain an augmentation column that sharpens the missingness model,
//  3. estimates each unit's probability of stage-2 observation (or accepts
//     user-supplied probabilities),
//  4. converts those probabilities into bounded observation weights,
//  5. runs the targeted effect estimator on the completed units with the
//     full covariate set and the constructed weights,
//  6. bundles the effect estimate, the missingness-model summary, and the
//     augmentation matrix into one Result.
//
// Error discipline: configuration problems (an unknown conditioning-set
// name) and data problems (conditioning on a partially missing outcome)
// abort immediately with sentinel errors. A failure inside the final effect
// estimation step does NOT abort: the pipeline records a warning and
// returns a degraded Result whose Est field is nil, so the missingness
// model remains usable.
//
// Everything is synchronous: one call in, one immutable Result out.
package ipcw
