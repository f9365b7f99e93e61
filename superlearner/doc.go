// Package superlearner implements cross-validated model selection and
// ensembling ("super learning") over a library of candidate regressions.
//
// Each candidate implements Learner. Fit splits the data into V folds,
// obtains out-of-fold predictions for every candidate, scores them with the
// family-appropriate loss (squared error for gaussian, negative Bernoulli
// log-likelihood for binomial), and then either
//
//   - picks the single lowest-risk candidate (discrete selection), or
//   - fits non-negative simplex weights over all candidates by minimizing
//     the cross-validated loss of the weighted combination (ensemble
//     selection).
//
// The returned Ensemble exposes full-data predictions and, importantly,
// CVPredictions: out-of-fold fitted values for every unit. Downstream code
// uses those wherever an in-sample fit would leak the outcome into a later
// model (the stage-1 augmentation step depends on this).
//
// Candidate libraries are explicit values, not globals: DefaultLibrary and
// RareOutcomeLibrary enumerate the built-ins, and callers may pass any
// Library of their own Learners.
//
// Determinism: fold assignment is a seeded permutation; identical inputs and
// seed give identical results.
package superlearner
