package api

import "mailcron/internal/task"

// TaskListResponse represents a list of tasks
type TaskListResponse struct {
	Tasks []*task.Task `json:"tasks"`
	Total int          `json:"total"`
}

// ErrorResponse represents a single-message error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ValidationResponse carries every rejected field at once
type ValidationResponse struct {
	Errors []string `json:"errors"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// RecipientsRequest modifies a task's recipient set
type RecipientsRequest struct {
	Action string `json:"action"`
	Email  string `json:"email"`
}

// SendNowResponse wraps the task state after a manual dispatch
type SendNowResponse struct {
	OK   bool       `json:"ok"`
	Task *task.Task `json:"task"`
}
