// Package bandit implements the Thompson Sampling treatment selector. The
// selector is a pure function of its belief snapshot and random source so
// it can be unit-tested with fixed seeds.
package bandit

import (
	"errors"
	"math/rand"
	"sort"

	"leadflow/pkg/domain"
)

// ErrNoEligibleTreatment signals an empty active set. Callers leave the
// lead in its scored state and retry later; this is not fatal.
var ErrNoEligibleTreatment = errors.New("no eligible treatment")

// Arm is one active treatment's belief state as seen by the selector.
type Arm struct {
	TreatmentID  domain.TreatmentID
	SuccessCount int64
	FailureCount int64
}

// Select draws one Beta(successCount, failureCount) sample per arm and
// returns the arm with the maximum sample. Wide posteriors occasionally win
// (exploration); concentrated high posteriors usually win (exploitation).
// Ties break toward the lowest treatment id. Arms are sorted by id before
// sampling so the draw sequence, and therefore the choice under a fixed
// seed, does not depend on snapshot order.
func Select(snapshot []Arm, rng *rand.Rand) (domain.TreatmentID, error) {
	if len(snapshot) == 0 {
		return "", ErrNoEligibleTreatment
	}

	arms := make([]Arm, len(snapshot))
	copy(arms, snapshot)
	sort.Slice(arms, func(i, j int) bool {
		return arms[i].TreatmentID < arms[j].TreatmentID
	})

	var (
		best       domain.TreatmentID
		bestSample = -1.0
	)
	for _, arm := range arms {
		alpha := float64(arm.SuccessCount)
		beta := float64(arm.FailureCount)
		if alpha <= 0 {
			alpha = 1
		}
		if beta <= 0 {
			beta = 1
		}

		sample := sampleBeta(rng, alpha, beta)
		if sample > bestSample {
			bestSample = sample
			best = arm.TreatmentID
		}
	}
	return best, nil
}
