package dto

// ==============================================
// COMMON RESPONSE DTOs
// ==============================================

// ErrorResponse - Standard error format
type ErrorResponse struct {
	Success     bool   `json:"success"`
	Error       string `json:"error"` // machine-readable code
	Message     string `json:"message"`
	WaitSeconds int    `json:"waitSeconds,omitempty"`
}

// HealthResponse - API health check
type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}
