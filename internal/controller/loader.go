package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"loanflow/internal/repository"
	"loanflow/pkg/models"
)

// StoreLoader loads workflow documents from the document intake store.
type StoreLoader struct {
	docs repository.DocumentStore
}

// NewStoreLoader creates a StoreLoader.
func NewStoreLoader(docs repository.DocumentStore) *StoreLoader {
	return &StoreLoader{docs: docs}
}

// Load returns the workflow document stored under id. The root id is the
// intake document's id; Data and Steps come from the message body. A raw
// or stepless body yields ErrMalformedDocument.
func (l *StoreLoader) Load(ctx context.Context, id string) (models.WorkflowDocument, error) {
	intake, err := l.docs.Get(ctx, id)
	if err != nil {
		return models.WorkflowDocument{}, err
	}
	if intake.Raw {
		return models.WorkflowDocument{ID: id}, fmt.Errorf("%w: %s holds a raw payload", ErrMalformedDocument, id)
	}
	doc, err := DecodeDocument([]byte(intake.Body))
	if err != nil {
		return models.WorkflowDocument{ID: id}, err
	}
	doc.ID = id
	return doc, nil
}

// DecodeDocument parses a message body into a workflow document. Top-level
// keys are matched case-insensitively; the id, if any, is kept.
func DecodeDocument(body []byte) (models.WorkflowDocument, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return models.WorkflowDocument{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	var doc models.WorkflowDocument
	for key, raw := range fields {
		var err error
		switch strings.ToLower(key) {
		case "id":
			err = json.Unmarshal(raw, &doc.ID)
		case "data":
			err = json.Unmarshal(raw, &doc.Data)
		case "steps":
			err = json.Unmarshal(raw, &doc.Steps)
			if err == nil && doc.Steps == nil {
				err = errors.New("null step list")
			}
		}
		if err != nil {
			return models.WorkflowDocument{}, fmt.Errorf("%w: field %s: %v", ErrMalformedDocument, key, err)
		}
	}
	if doc.Steps == nil {
		return doc, fmt.Errorf("%w: missing Steps", ErrMalformedDocument)
	}
	return doc, nil
}
