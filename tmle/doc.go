// Package tmle estimates the average treatment effect (ATE) of a binary
// treatment by targeted maximum likelihood.
//
// The procedure is the standard one:
//
//  1. Scale the outcome into [0,1] so all fluctuation happens on the logit
//     scale (continuous outcomes are mapped by their observed range).
//  2. Fit the initial outcome regression Q(A,W) with a cross-validated
//     super learner, and the treatment mechanism g(W) = P(A=1|W) likewise.
//  3. When outcomes are missing, fit the outcome-observation mechanism
//     P(Delta=1|A,W) and fold it into the clever covariate.
//  4. Fluctuate Q along the clever covariate H(A,W) by an intercept-free
//     logistic regression with offset logit(Q).
//  5. Report the targeted ATE with influence-curve based standard errors,
//     aggregating the influence curve within clusters when IDs repeat.
//
// Failures at any step surface as errors; the caller decides whether a
// failed effect estimate is fatal (the two-stage pipeline downgrades it to
// a warning).
//
// Inference uses the normal distribution from gonum's distuv for confidence
// limits and p-values.
package tmle
