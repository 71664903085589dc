package services

import (
	"context"

	"loanflow/pkg/models"
)

// ApprovalClient requests a human decision on a loan application.
type ApprovalClient interface {
	// RequestApproval blocks until a decision is available or ctx is done.
	// A pending status is returned when the approver has not decided by the
	// time the backend stops waiting.
	RequestApproval(ctx context.Context, applicationData string) (*models.Approval, error)
}
