// Package models defines the domain models for the loan workflow service
package models

// Credit score bounds returned by the scoring capability.
const (
	MinCreditScore = 300
	MaxCreditScore = 850
)

// ApprovalStatus is the outcome of a human approval request.
type ApprovalStatus string

const (
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Decided reports whether a human has made a final call.
func (s ApprovalStatus) Decided() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// ValidationResult reports whether an application carries every required
// field.
type ValidationResult struct {
	Valid         bool     `json:"valid"`
	MissingFields []string `json:"missing_fields"`
}

// CreditScore is the scoring capability's result.
type CreditScore struct {
	Score int `json:"credit_score"`
}

// Approval is the approval capability's result.
type Approval struct {
	ID     string         `json:"id,omitempty"`
	Status ApprovalStatus `json:"approval_status"`
}
