// Package agents builds the capability registries served by the subordinate
// agent processes.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"loanflow/internal/capability"
	"loanflow/internal/logging"
	"loanflow/internal/services"
	"loanflow/pkg/models"
)

// Agent and capability names.
const (
	CommercialLoanAgent = "CommercialLoanAgent"
	StatusLoggingAgent  = "StatusLoggingAgent"

	ValidateApplication  = "validate_application"
	GetCreditScore       = "get_credit_score"
	GetApproval          = "get_approval"
	LogStep              = "log_step"
	UpdateWorkflowStatus = "update_workflow_status"

	ParamApplicationData = "application_data"
	ParamWorkflowID      = "workflow_id"
)

// requiredFields are checked by validate_application, each with the key
// spellings accepted for it (compared after lowercasing and dropping
// punctuation).
var requiredFields = []struct {
	name    string
	aliases []string
}{
	{"name", []string{"name", "applicantname", "businessname", "companyname"}},
	{"address", []string{"address", "street", "streetaddress", "addressline1"}},
	{"zip_code", []string{"zip", "zipcode", "postalcode", "postcode"}},
	{"email", []string{"email", "emailaddress"}},
}

const (
	scoreFloor = 790
	scoreBand  = 51
)

// CommercialLoan returns the registry of the commercial loan agent.
func CommercialLoan(approvals services.ApprovalClient, logger *logging.Logger) (*capability.Registry, error) {
	if approvals == nil {
		return nil, fmt.Errorf("approval client is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	appData := capability.Param{
		Name:        ParamApplicationData,
		Type:        capability.TypeString,
		Description: "The loan application as a JSON document",
		Required:    true,
	}

	r := capability.NewRegistry()
	caps := []capability.Capability{
		{
			Name:        ValidateApplication,
			Description: "Validates that a loan application contains the applicant name, street address, zip code and email.",
			Params:      []capability.Param{appData},
			Handler: func(ctx context.Context, args capability.Args) (capability.Result, error) {
				data, err := args.String(ParamApplicationData)
				if err != nil {
					return nil, err
				}
				res := Validate(data)
				logger.Info("Application validated", "valid", res.Valid, "missing", res.MissingFields)
				out := capability.Result{"valid": res.Valid, "missing_fields": res.MissingFields}
				if !res.Valid {
					return nil, capability.Fail("INVALID: Missing "+strings.Join(res.MissingFields, ", "), out)
				}
				return out, nil
			},
		},
		{
			Name:        GetCreditScore,
			Description: "Retrieves the credit score for the applicant.",
			Params:      []capability.Param{appData},
			Handler: func(ctx context.Context, args capability.Args) (capability.Result, error) {
				data, err := args.String(ParamApplicationData)
				if err != nil {
					return nil, err
				}
				score := CreditScore(data)
				logger.Info("Credit score retrieved", "credit_score", score)
				return capability.Result{"credit_score": score}, nil
			},
		},
		{
			Name:        GetApproval,
			Description: "Sends the application to a human approver and waits for the decision.",
			Params:      []capability.Param{appData},
			LongRunning: true,
			Handler: func(ctx context.Context, args capability.Args) (capability.Result, error) {
				data, err := args.String(ParamApplicationData)
				if err != nil {
					return nil, err
				}
				logger.Info("Requesting approval")
				approval, err := approvals.RequestApproval(ctx, data)
				if err != nil {
					logger.Error("Approval request failed", "error", err)
					return nil, err
				}
				out := capability.Result{"approval_status": string(approval.Status)}
				if approval.ID != "" {
					out["approval_id"] = approval.ID
				}
				logger.Info("Approval returned", "approval_status", approval.Status)
				if approval.Status != models.ApprovalApproved {
					return nil, capability.Fail("approval "+string(approval.Status), out)
				}
				return out, nil
			},
		},
	}
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Validate checks an application payload for the required fields. Nested
// objects are searched, so {"address": {"street": ..., "zip": ...}} counts.
// A payload that is not a JSON object is missing everything.
func Validate(applicationData string) models.ValidationResult {
	found := make(map[string]bool, len(requiredFields))

	var doc any
	if err := json.Unmarshal([]byte(applicationData), &doc); err == nil {
		walkFields(doc, found)
	}

	res := models.ValidationResult{Valid: true, MissingFields: []string{}}
	for _, f := range requiredFields {
		if !found[f.name] {
			res.Valid = false
			res.MissingFields = append(res.MissingFields, f.name)
		}
	}
	return res
}

func walkFields(v any, found map[string]bool) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if isPresent(val) {
				if name, ok := fieldFor(k); ok {
					found[name] = true
				}
			}
			walkFields(val, found)
		}
	case []any:
		for _, val := range t {
			walkFields(val, found)
		}
	}
}

func fieldFor(key string) (string, bool) {
	norm := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, key)
	for _, f := range requiredFields {
		for _, a := range f.aliases {
			if norm == a {
				return f.name, true
			}
		}
	}
	return "", false
}

func isPresent(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case float64, json.Number:
		return true
	}
	return false
}

// CreditScore derives a stable score for an application payload. The same
// payload always scores the same and every score lies in [790, 840].
func CreditScore(applicationData string) int {
	h := fnv.New32a()
	h.Write([]byte(applicationData))
	score := scoreFloor + int(h.Sum32()%scoreBand)
	return min(max(score, models.MinCreditScore), models.MaxCreditScore)
}
