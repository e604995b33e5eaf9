// Package dto holds the request/response bodies of the control surface
// (spec.md §6), kept deliberately thin: the engine operates on domain types
// directly, these are only the wire shapes.
package dto

import "github.com/duragraph/duragraph/internal/domain/stitchgraph"

// ErrorResponse is the canonical error envelope, spec.md §7.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// RunRequest is the body of POST /api/flows/:id/run.
type RunRequest struct {
	VisualGraph *stitchgraph.VisualGraph `json:"visualGraph,omitempty"`
	EntityID    string                   `json:"entityId,omitempty"`
	Input       map[string]interface{}   `json:"input,omitempty"`
}

// RunResponse is the body returned by a successful POST /api/flows/:id/run.
type RunResponse struct {
	RunID     string `json:"runId"`
	VersionID string `json:"versionId"`
	Status    string `json:"status"`
}

// CallbackRequest is the body of POST /api/stitch/callback/:runId/:nodeId,
// the Worker Protocol's callback payload (spec.md §6).
type CallbackRequest struct {
	Status string      `json:"status"`
	Output interface{} `json:"output,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// CompleteRequest is the body of POST /api/stitch/complete/:runId/:nodeId.
type CompleteRequest struct {
	Input interface{} `json:"input"`
}

// SuccessResponse is the generic `{ success: true }` envelope, spec.md §6.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// RunStateResponse is the body of GET /api/runs/:id (supplemented feature).
type RunStateResponse struct {
	ID            string                 `json:"id"`
	FlowVersionID string                 `json:"flowVersionId"`
	EntityID      string                 `json:"entityId,omitempty"`
	Status        string                 `json:"status"`
	NodeStates    map[string]interface{} `json:"nodeStates"`
	CreatedAt     string                 `json:"createdAt"`
	UpdatedAt     string                 `json:"updatedAt"`
}
