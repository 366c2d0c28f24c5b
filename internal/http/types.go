package http

import (
	"github.com/fyrsmithlabs/rulesmith/internal/telemetry"
)

// GenerateRequest is the JSON body for POST /api/v1/rules/generate.
// A text/plain body is taken as the document itself.
type GenerateRequest struct {
	Document   string `json:"document"`
	DocumentID string `json:"document_id,omitempty"`
	Title      string `json:"title,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version,omitempty"`
	Services  map[string]string       `json:"services"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}
