package models

import "time"

// ProcessingLogStatus is the terminal (or in-flight) state of a suggestion run.
type ProcessingLogStatus string

const (
	ProcessingStatusProcessing     ProcessingLogStatus = "processing"
	ProcessingStatusCompleted      ProcessingLogStatus = "completed"
	ProcessingStatusFailed         ProcessingLogStatus = "failed"
	ProcessingStatusPartialSuccess ProcessingLogStatus = "partial_success"
)

// ProcessingLog is the permanent audit record of one suggestion run.
// Created when a run starts and updated exactly once when it finishes.
// Logs are never deleted.
type ProcessingLog struct {
	ID            string              `json:"id" db:"id"`
	ParentLogID   *string             `json:"parent_log_id,omitempty" db:"parent_log_id"`
	ResourceID    string              `json:"resource_id" db:"resource_id"`
	OwnerID       string              `json:"owner_id" db:"owner_id"`
	AttemptNumber int                 `json:"attempt_number" db:"attempt_number"`
	Status        ProcessingLogStatus `json:"status" db:"status"`
	ModelUsed     string              `json:"model_used" db:"model_used"`

	// Opaque structured payloads, stored as JSONB.
	InputData    map[string]interface{} `json:"input_data,omitempty" db:"input_data"`
	OutputData   map[string]interface{} `json:"output_data,omitempty" db:"output_data"`
	ErrorDetails map[string]interface{} `json:"error_details,omitempty" db:"error_details"`

	ProcessingTimeMs int64      `json:"processing_time_ms" db:"processing_time_ms"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}
