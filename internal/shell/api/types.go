package api

// =============================================================================
// Response Types
// =============================================================================

// HealthResponse is the response for health checks.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorObject is one JSON:API error.
type ErrorObject struct {
	Status string       `json:"status"`
	Title  string       `json:"title"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
}

// ErrorSource points at the offending part of the request.
type ErrorSource struct {
	Pointer   string `json:"pointer,omitempty"`
	Parameter string `json:"parameter,omitempty"`
}

// ErrorResponse is a JSON:API error document.
type ErrorResponse struct {
	Errors []ErrorObject `json:"errors"`
}
