package services

import (
	"context"
	"math/rand/v2"
	"time"

	"loanflow/pkg/models"
)

// SimulatedApprovalClient stands in for a human approver: it waits a fixed
// delay and then returns a decision.
type SimulatedApprovalClient struct {
	delay  time.Duration
	decide func(applicationData string) models.ApprovalStatus
}

// NewSimulatedApprovalClient returns a client that picks uniformly among
// approved, pending and rejected after delay.
func NewSimulatedApprovalClient(delay time.Duration) *SimulatedApprovalClient {
	return &SimulatedApprovalClient{delay: delay, decide: randomDecision}
}

// NewFixedApprovalClient always returns status after delay.
func NewFixedApprovalClient(delay time.Duration, status models.ApprovalStatus) *SimulatedApprovalClient {
	return &SimulatedApprovalClient{
		delay:  delay,
		decide: func(string) models.ApprovalStatus { return status },
	}
}

func randomDecision(string) models.ApprovalStatus {
	choices := []models.ApprovalStatus{models.ApprovalApproved, models.ApprovalPending, models.ApprovalRejected}
	return choices[rand.IntN(len(choices))]
}

// RequestApproval waits for the configured delay unless ctx ends first.
func (c *SimulatedApprovalClient) RequestApproval(ctx context.Context, applicationData string) (*models.Approval, error) {
	if c.delay > 0 {
		timer := time.NewTimer(c.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return &models.Approval{Status: c.decide(applicationData)}, nil
}
