package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"loanflow/pkg/models"
)

// HTTPApprovalClient is an HTTP implementation of the ApprovalClient
// interface. It files a request with an approval desk and polls until a
// human decides.
type HTTPApprovalClient struct {
	url          string
	pollInterval time.Duration
	httpClient   *http.Client
}

// NewHTTPApprovalClient creates a new HTTPApprovalClient.
func NewHTTPApprovalClient(baseURL string, pollInterval time.Duration) *HTTPApprovalClient {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &HTTPApprovalClient{
		url:          strings.TrimRight(baseURL, "/"),
		pollInterval: pollInterval,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// RequestApproval posts the application and waits for a decision.
func (c *HTTPApprovalClient) RequestApproval(ctx context.Context, applicationData string) (*models.Approval, error) {
	requestBody, err := json.Marshal(map[string]string{"application_data": applicationData})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/approvals", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	approval, err := c.do(req, http.StatusOK, http.StatusCreated, http.StatusAccepted)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for !approval.Status.Decided() {
		if approval.ID == "" {
			return nil, fmt.Errorf("approval undecided and no id to poll")
		}

		select {
		case <-ctx.Done():
			return approval, fmt.Errorf("waiting for approval %s: %w", approval.ID, ctx.Err())
		case <-ticker.C:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/approvals/"+url.PathEscape(approval.ID), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if approval, err = c.do(req, http.StatusOK); err != nil {
			return nil, err
		}
	}

	return approval, nil
}

func (c *HTTPApprovalClient) do(req *http.Request, okCodes ...int) (*models.Approval, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	ok := false
	for _, code := range okCodes {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("failed to get approval: status code %d", resp.StatusCode)
	}

	var approval models.Approval
	if err := json.NewDecoder(resp.Body).Decode(&approval); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	switch approval.Status {
	case models.ApprovalApproved, models.ApprovalPending, models.ApprovalRejected:
	default:
		return nil, fmt.Errorf("unknown approval status %q", approval.Status)
	}
	return &approval, nil
}
