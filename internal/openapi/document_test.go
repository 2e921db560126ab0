package openapi

import (
	"encoding/json"
	"net/http"
	"testing"
)

func loadTestDocument(t *testing.T) *Document {
	t.Helper()
	doc, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return doc
}

func TestLoad_embeddedDocument(t *testing.T) {
	doc := loadTestDocument(t)
	if doc.Title() != "Consultation Workflow API" {
		t.Errorf("Title = %q", doc.Title())
	}
	if len(doc.OperationIDs()) < 30 {
		t.Errorf("operations = %d, want every API route indexed", len(doc.OperationIDs()))
	}
}

func TestDocument_Operation(t *testing.T) {
	doc := loadTestDocument(t)

	tests := []struct {
		id      string
		method  string
		path    string
		hasBody bool
	}{
		{"createConsultation", http.MethodPost, "/v1/consultations", true},
		{"getConsultation", http.MethodGet, "/v1/consultations/{id}", false},
		{"recordConsent", http.MethodPost, "/v1/consultations/{id}/consents", true},
		{"acknowledgeAlert", http.MethodPost, "/v1/consultations/{id}/alerts/{alertId}/acknowledge", false},
		{"generateReport", http.MethodPost, "/v1/consultations/{id}/reports", true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			op, ok := doc.Operation(tt.id)
			if !ok {
				t.Fatalf("operation %q not indexed", tt.id)
			}
			if op.Method != tt.method || op.PathTemplate != tt.path {
				t.Errorf("op = %s %s, want %s %s", op.Method, op.PathTemplate, tt.method, tt.path)
			}
			if (op.BodySchema != nil) != tt.hasBody {
				t.Errorf("has body schema = %v, want %v", op.BodySchema != nil, tt.hasBody)
			}
		})
	}

	if _, ok := doc.Operation("doesNotExist"); ok {
		t.Error("unknown operation should not be found")
	}
}

func TestDocument_JSON(t *testing.T) {
	doc := loadTestDocument(t)
	var rendered map[string]any
	if err := json.Unmarshal(doc.JSON(), &rendered); err != nil {
		t.Fatalf("JSON() is not valid JSON: %v", err)
	}
	if rendered["openapi"] != "3.0.3" {
		t.Errorf("openapi = %v, want 3.0.3", rendered["openapi"])
	}
	paths, _ := rendered["paths"].(map[string]any)
	if _, ok := paths["/v1/consultations/{id}/events"]; !ok {
		t.Error("rendered document should describe the event stream")
	}
}

func TestDocument_ValidateBody(t *testing.T) {
	doc := loadTestDocument(t)

	tests := []struct {
		name      string
		operation string
		body      string
		wantField string
	}{
		{name: "valid workflow", operation: "createConsultation",
			body: `{"title":"Pipeline","type":"infrastructure_project","consensus_mechanism":"majority"}`},
		{name: "unknown type", operation: "createConsultation",
			body: `{"title":"Pipeline","type":"mining"}`, wantField: "type"},
		{name: "wrong field type", operation: "createConsultation",
			body: `{"title":42}`, wantField: "title"},
		{name: "negative population", operation: "createConsultation",
			body: `{"affected_populations":-3}`, wantField: "affected_populations"},
		{name: "consent flag not boolean", operation: "recordConsent",
			body: `{"party_id":"p1","consent_given":"yes"}`, wantField: "consent_given"},
		{name: "bad risk level", operation: "addRisk",
			body: `{"title":"Flood","probability":"extreme"}`, wantField: "probability"},
		{name: "empty body", operation: "createConsultation", body: ""},
		{name: "no body schema", operation: "advanceMilestone", body: `{"anything":true}`},
		{name: "unknown operation", operation: "nope", body: `{"x":1}`},
		{name: "malformed json", operation: "addRisk", body: `{`, wantField: "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := doc.ValidateBody(tt.operation, []byte(tt.body))
			if tt.wantField == "" {
				if len(errs) != 0 {
					t.Errorf("unexpected errors: %+v", errs)
				}
				return
			}
			found := false
			for _, e := range errs {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("errors = %+v, want one for field %q", errs, tt.wantField)
			}
		})
	}
}

func TestLoadData_invalid(t *testing.T) {
	tests := map[string]string{
		"not yaml":     "{{{",
		"missing info": "openapi: 3.0.3\npaths: {}\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadData([]byte(data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
