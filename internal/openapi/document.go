// Package openapi loads the embedded OpenAPI description of the HTTP API,
// indexes its operations and validates request bodies against their
// schemas.
package openapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/sanjabh11/consultflow/model"
)

//go:embed api.yaml
var apiSpec []byte

// Operation is an indexed API operation.
type Operation struct {
	ID           string
	Method       string
	PathTemplate string
	BodySchema   *openapi3.Schema
}

// Document is a loaded and validated API description.
type Document struct {
	doc        *openapi3.T
	operations map[string]Operation
	json       []byte
}

// Load parses and validates the embedded API description.
func Load() (*Document, error) {
	return LoadData(apiSpec)
}

// LoadData parses and validates an OpenAPI document from YAML or JSON.
func LoadData(data []byte) (*Document, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: parse: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("openapi: validate: %w", err)
	}

	d := &Document{doc: doc, operations: make(map[string]Operation)}
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op.OperationID == "" {
				continue
			}
			if _, dup := d.operations[op.OperationID]; dup {
				return nil, fmt.Errorf("openapi: duplicate operationId %q", op.OperationID)
			}
			entry := Operation{ID: op.OperationID, Method: method, PathTemplate: path}
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				if mt := op.RequestBody.Value.Content.Get("application/json"); mt != nil && mt.Schema != nil {
					entry.BodySchema = mt.Schema.Value
				}
			}
			d.operations[op.OperationID] = entry
		}
	}

	d.json, err = json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("openapi: marshal: %w", err)
	}
	return d, nil
}

// JSON returns the document rendered as JSON.
func (d *Document) JSON() []byte {
	return d.json
}

// Title returns the document's info title.
func (d *Document) Title() string {
	return d.doc.Info.Title
}

// Operation returns the operation with the given operationId.
func (d *Document) Operation(id string) (Operation, bool) {
	op, ok := d.operations[id]
	return op, ok
}

// OperationIDs returns every operationId, sorted.
func (d *Document) OperationIDs() []string {
	ids := make([]string, 0, len(d.operations))
	for id := range d.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateBody checks a JSON request body against the operation's request
// schema and reports every violation as a FieldError. An empty body and an
// operation without a body schema always pass.
func (d *Document) ValidateBody(operationID string, body []byte) []model.FieldError {
	op, ok := d.operations[operationID]
	if !ok || op.BodySchema == nil || len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return []model.FieldError{{Field: "body", Code: "INVALID_JSON", Message: err.Error()}}
	}

	err := op.BodySchema.VisitJSON(value, openapi3.MultiErrors())
	if err == nil {
		return nil
	}
	return fieldErrors(err)
}

func fieldErrors(err error) []model.FieldError {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		var out []model.FieldError
		for _, e := range multi {
			out = append(out, fieldErrors(e)...)
		}
		return out
	}

	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		field := strings.Join(se.JSONPointer(), ".")
		if field == "" {
			field = "body"
		}
		return []model.FieldError{{Field: field, Code: "SCHEMA_VIOLATION", Message: se.Reason}}
	}
	return []model.FieldError{{Field: "body", Code: "SCHEMA_VIOLATION", Message: err.Error()}}
}
