// Package billing implements the pre-flight credit check consulted before
// a job is allowed to start.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxhall/concierge/internal/repository"
	"github.com/voxhall/concierge/pkg/models"
)

// Denial reasons carried in the decision and in the API error payload.
// An unknown principal is deliberately kept distinct from a known account
// that is out of credits.
const (
	ReasonInsufficientCredits = "insufficient_credits"
	ReasonPrincipalUnknown    = "principal_unknown"
)

// Gate decides whether a principal may start a job. The balance is read
// fresh on every call; it can be consumed by operations outside this
// system, so a decision is advisory at the moment of check, never a
// reservation.
type Gate struct {
	store      repository.Store
	minCredits float64
}

// NewGate creates a new Gate with the given minimum credit threshold.
func NewGate(store repository.Store, minCredits float64) *Gate {
	return &Gate{store: store, minCredits: minCredits}
}

// Check computes an admission decision for the principal.
func (g *Gate) Check(ctx context.Context, principal string) (models.AdmissionDecision, error) {
	account, err := g.store.GetAccount(ctx, principal)
	if errors.Is(err, repository.ErrNotFound) {
		return models.AdmissionDecision{
			Approved: false,
			Reason:   ReasonPrincipalUnknown,
		}, nil
	}
	if err != nil {
		return models.AdmissionDecision{}, fmt.Errorf("failed to load account %q: %w", principal, err)
	}

	balance := account.Credits
	if balance < g.minCredits {
		return models.AdmissionDecision{
			Approved:       false,
			Reason:         ReasonInsufficientCredits,
			CurrentBalance: &balance,
		}, nil
	}
	return models.AdmissionDecision{Approved: true, CurrentBalance: &balance}, nil
}
