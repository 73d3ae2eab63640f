// Package sweep ages out expired links. The planning step is a pure
// function over the clock and the candidate set; the runner applies the
// planned transitions against the store and the processor.
package sweep

import (
	"time"

	"github.com/lumapay/linkledger/internal/domain"
)

// Step is one planned transition. DeactivateUpstream is false when a
// previous run already turned off the checkout object and only the local
// status write remains.
type Step struct {
	Link               domain.Link
	DeactivateUpstream bool
}

// Plan filters candidates down to the links actually due at now. The store
// query does the heavy filtering; this guards against stale reads and
// candidates another run already finished.
func Plan(now time.Time, candidates []domain.Link) []Step {
	var steps []Step
	for _, l := range candidates {
		if l.Status != domain.LinkActive {
			continue
		}
		if l.ExpiresAt == nil || l.ExpiresAt.After(now) {
			continue
		}
		steps = append(steps, Step{
			Link:               l,
			DeactivateUpstream: l.CheckoutDisabledAt == nil,
		})
	}
	return steps
}
