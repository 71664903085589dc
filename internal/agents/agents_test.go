package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"loanflow/internal/capability"
	"loanflow/internal/services"
	"loanflow/pkg/models"
)

const completeApplication = `{"name":"Acme Corp","address":"1 Main St","zip_code":"10001","email":"cfo@acme.test"}`

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		missing []string
	}{
		{"complete", completeApplication, []string{}},
		{"aliases", `{"ApplicantName":"Acme","Street-Address":"1 Main","postalCode":10001,"Email_Address":"a@b.c"}`, []string{}},
		{"nested", `{"applicant":{"name":"Acme","email":"a@b.c","address":{"street":"1 Main","zip":"10001"}}}`, []string{}},
		{"missing email", `{"name":"Acme","address":"1 Main","zip":"10001"}`, []string{"email"}},
		{"blank name", `{"name":"  ","address":"1 Main","zip":"10001","email":"a@b.c"}`, []string{"name"}},
		{"not json", `Acme Corp, 1 Main St`, []string{"name", "address", "zip_code", "email"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.data)
			assert.Equal(t, len(tt.missing) == 0, res.Valid)
			assert.Equal(t, tt.missing, res.MissingFields)
		})
	}
}

func TestCreditScore_InRangeAndStable(t *testing.T) {
	inputs := []string{"", "{}", completeApplication, "x", `{"name":"Other"}`}
	for i := 0; i < 500; i++ {
		inputs = append(inputs, string(rune('a'+i%26))+time.Duration(i).String())
	}
	for _, in := range inputs {
		s := CreditScore(in)
		assert.GreaterOrEqual(t, s, models.MinCreditScore)
		assert.LessOrEqual(t, s, models.MaxCreditScore)
		assert.GreaterOrEqual(t, s, 790)
		assert.LessOrEqual(t, s, 840)
		assert.Equal(t, s, CreditScore(in))
	}
}

func TestCommercialLoan_Capabilities(t *testing.T) {
	r, err := CommercialLoan(services.NewFixedApprovalClient(0, models.ApprovalApproved), nil)
	require.NoError(t, err)
	ctx := context.Background()

	names := []string{}
	for _, c := range r.List() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{ValidateApplication, GetCreditScore, GetApproval}, names)

	approval, _ := r.Lookup(GetApproval)
	assert.True(t, approval.LongRunning)

	res, err := r.Invoke(ctx, ValidateApplication, capability.Args{ParamApplicationData: completeApplication})
	require.NoError(t, err)
	assert.Equal(t, true, res["valid"])

	res, err = r.Invoke(ctx, GetCreditScore, capability.Args{ParamApplicationData: completeApplication})
	require.NoError(t, err)
	assert.Equal(t, CreditScore(completeApplication), res["credit_score"])

	res, err = r.Invoke(ctx, GetApproval, capability.Args{ParamApplicationData: completeApplication})
	require.NoError(t, err)
	assert.Equal(t, "approved", res["approval_status"])

	_, err = r.Invoke(ctx, GetCreditScore, capability.Args{})
	assert.ErrorIs(t, err, capability.ErrInvalidArguments)
}

func TestCommercialLoan_InvalidApplicationIsFailure(t *testing.T) {
	r, err := CommercialLoan(services.NewFixedApprovalClient(0, models.ApprovalApproved), nil)
	require.NoError(t, err)

	_, err = r.Invoke(context.Background(), ValidateApplication, capability.Args{ParamApplicationData: `{"name":"Acme"}`})
	require.Error(t, err)
	var f *capability.Failure
	require.ErrorAs(t, err, &f)
	assert.Contains(t, f.Reason, "email")
	assert.Equal(t, false, f.Result["valid"])
}

func TestCommercialLoan_ApprovalOutcomes(t *testing.T) {
	for _, status := range []models.ApprovalStatus{models.ApprovalRejected, models.ApprovalPending} {
		r, err := CommercialLoan(services.NewFixedApprovalClient(0, status), nil)
		require.NoError(t, err)

		_, err = r.Invoke(context.Background(), GetApproval, capability.Args{ParamApplicationData: "{}"})
		assert.True(t, capability.IsFailure(err), status)
	}

	r, err := CommercialLoan(services.NewSimulatedApprovalClient(time.Hour), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Invoke(ctx, GetApproval, capability.Args{ParamApplicationData: "{}"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, capability.IsFailure(err))

	_, err = CommercialLoan(nil, nil)
	assert.Error(t, err)
}

// MockRecorder satisfies StatusRecorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) LogStep(ctx context.Context, workflowID string, step int, status, comment string) (*models.StepLogEntry, error) {
	args := m.Called(ctx, workflowID, step, status, comment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StepLogEntry), args.Error(1)
}

func (m *MockRecorder) UpdateStatus(ctx context.Context, workflowID, status string, step int) (*models.WorkflowRecord, error) {
	args := m.Called(ctx, workflowID, status, step)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkflowRecord), args.Error(1)
}

func TestStatusLogging_LogStep(t *testing.T) {
	rec := new(MockRecorder)
	rec.On("LogStep", mock.Anything, "W1", 2, "Successful", "Credit score 812").
		Return(&models.StepLogEntry{ID: 7, WorkflowID: "W1", Step: 2}, nil)

	r, err := StatusLogging(rec, nil)
	require.NoError(t, err)

	res, err := r.Invoke(context.Background(), LogStep, capability.Args{
		"step_status_comment": "Credit score 812",
		"step":                float64(2),
		"workflow_id":         "W1",
		"status":              "Successful",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res["id"])
	rec.AssertExpectations(t)

	_, err = r.Invoke(context.Background(), LogStep, capability.Args{"workflow_id": "W1"})
	assert.ErrorIs(t, err, capability.ErrInvalidArguments)
}

func TestStatusLogging_UpdateWorkflowStatus(t *testing.T) {
	rec := new(MockRecorder)
	rec.On("UpdateStatus", mock.Anything, "W1", "Completed", 3).
		Return(&models.WorkflowRecord{ID: "W1", Status: models.StatusCompleted, CurrentStep: 3}, nil)
	rec.On("UpdateStatus", mock.Anything, "W2", "Failed", 1).
		Return(nil, errors.New("workflow is in a terminal state"))

	r, err := StatusLogging(rec, nil)
	require.NoError(t, err)

	res, err := r.Invoke(context.Background(), UpdateWorkflowStatus, capability.Args{"current_step": 3, "workflow_id": "W1", "status": "Completed"})
	require.NoError(t, err)
	assert.Equal(t, "Completed", res["status"])
	assert.Equal(t, 3, res["current_step"])

	_, err = r.Invoke(context.Background(), UpdateWorkflowStatus, capability.Args{"current_step": 1, "workflow_id": "W2", "status": "Failed"})
	assert.ErrorContains(t, err, "terminal")
	rec.AssertExpectations(t)
}
