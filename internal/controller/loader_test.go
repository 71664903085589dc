package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"loanflow/internal/repository"
	"loanflow/pkg/models"
)

// MockDocumentStore satisfies repository.DocumentStore
type MockDocumentStore struct {
	mock.Mock
}

func (m *MockDocumentStore) Put(ctx context.Context, doc *models.IntakeDocument) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockDocumentStore) Get(ctx context.Context, id string) (*models.IntakeDocument, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.IntakeDocument), args.Error(1)
}

func (m *MockDocumentStore) FindByMessageID(ctx context.Context, messageID string) (*models.IntakeDocument, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.IntakeDocument), args.Error(1)
}

func TestDecodeDocument(t *testing.T) {
	doc, err := DecodeDocument([]byte(`{
		"id": "W1",
		"Data": {"name": "Acme"},
		"Steps": [
			{"Index": 2, "Instruction": "Get a credit score", "Capability": "get_credit_score"},
			{"index": 1, "instruction": "validate_application"}
		]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "W1", doc.ID)
	assert.Equal(t, map[string]any{"name": "Acme"}, doc.Data)
	require.Len(t, doc.Steps, 2)
	assert.Equal(t, 2, doc.Steps[0].Index)
	assert.Equal(t, "get_credit_score", doc.Steps[0].Capability)
	assert.Equal(t, "validate_application", doc.Steps[1].Instruction)

	doc, err = DecodeDocument([]byte(`{"steps": []}`))
	require.NoError(t, err)
	assert.NotNil(t, doc.Steps)
	assert.Empty(t, doc.Steps)
}

func TestDecodeDocument_Malformed(t *testing.T) {
	for name, body := range map[string]string{
		"not json":      `loan please`,
		"no steps":      `{"data": {}}`,
		"null steps":    `{"steps": null}`,
		"steps object":  `{"steps": {"index": 1}}`,
		"bad index":     `{"steps": [{"index": "one"}]}`,
		"array at root": `[1, 2]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeDocument([]byte(body))
			assert.ErrorIs(t, err, ErrMalformedDocument)
		})
	}
}

func TestStoreLoader_Load(t *testing.T) {
	docs := new(MockDocumentStore)
	docs.On("Get", mock.Anything, "doc-1").Return(&models.IntakeDocument{
		ID:   "doc-1",
		Body: `{"id": "ignored", "data": {"name": "Acme"}, "steps": [{"index": 1, "capability": "validate_application"}]}`,
	}, nil)
	docs.On("Get", mock.Anything, "raw-1").Return(&models.IntakeDocument{ID: "raw-1", Body: "hello", Raw: true}, nil)
	docs.On("Get", mock.Anything, "gone").Return(nil, repository.ErrNotFound)

	loader := NewStoreLoader(docs)
	ctx := context.Background()

	doc, err := loader.Load(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)
	require.Len(t, doc.Steps, 1)

	doc, err = loader.Load(ctx, "raw-1")
	assert.ErrorIs(t, err, ErrMalformedDocument)
	assert.Equal(t, "raw-1", doc.ID)

	_, err = loader.Load(ctx, "gone")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	docs.AssertExpectations(t)
}

func TestLoadAndRun_RawDocumentFailsAtStepZero(t *testing.T) {
	h := newHarness(t)
	h.register(t, "raw-1")
	docs := new(MockDocumentStore)
	docs.On("Get", mock.Anything, "raw-1").Return(&models.IntakeDocument{ID: "raw-1", Body: "hello", Raw: true}, nil)
	c := h.controller(t)

	got, err := c.LoadAndRun(context.Background(), NewStoreLoader(docs), "raw-1")
	assert.ErrorIs(t, err, ErrMalformedDocument)
	assert.Equal(t, models.StatusFailed, got)

	rec := h.record(t, "raw-1")
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, 0, rec.CurrentStep)
}
