// Package twostage estimates causal treatment effects when part of the
// covariate set is measured only on a sub-sample of units.
//
// 🚀 What is twostage?
//
//	A pure-Go statistics library implementing two-stage Targeted Maximum
//	Likelihood Estimation (TMLE) with inverse-probability-of-censoring
//	weighting (IPCW):
//		• Labeled matrices: vector/matrix covariate inputs with named columns
//		• Nuisance fitting: gaussian & binomial GLMs, cross-validated
//		  super-learner ensembling over a candidate library
//		• Targeting: clever-covariate fluctuation, influence-curve inference
//		• Two-stage glue: missingness-probability models, bounded sampling
//		  weights, degraded results when the final estimation step fails
//
// ✨ Why choose twostage?
//
//   - One call in, one result out – synchronous, no shared state
//   - Explicit configuration – enumerated candidate libraries, no globals
//   - Typed stop conditions – sentinel errors, errors.Is throughout
//
// Everything is organized under five subpackages:
//
//	frame/        — dense float64 matrices with named columns
//	glm/          — weighted gaussian/binomial regression (IRLS)
//	superlearner/ — V-fold cross-validated model selection & ensembling
//	tmle/         — targeted effect estimation with influence-curve inference
//	ipcw/         — the two-stage entry point: weights, missingness models,
//	                augmented covariates, delegated effect estimation
//
// Start with ipcw.Estimate for the full pipeline, or use the subpackages
// directly as building blocks.
//
//	go get github.com/statkit/twostage
package twostage
